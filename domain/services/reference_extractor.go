package services

import (
	"regexp"
	"strings"

	"docgraph/domain/core/entities"
)

// BlockReferenceScheme is the link scheme reserved for block references
const BlockReferenceScheme = "block://"

var (
	// [label](block://<id>) with an optional "title", 'title' or (title)
	blockReferencePattern = regexp.MustCompile(`\[[^\]]*\]\(` + regexp.QuoteMeta(BlockReferenceScheme) +
		`([^)\s]+)(?:\s+(?:"[^"]*"|'[^']*'|\([^)]*\)))?\s*\)`)

	// #label or #parent/child, not preceded by a word character, '/' or '#'
	hashtagPattern = regexp.MustCompile(`(?:^|[^\w/#])#([A-Za-z0-9_]+(?:/[A-Za-z0-9_]+)*)`)
)

// Extraction is the result of scanning one content tree
type Extraction struct {
	// References holds reference targets in depth-first pre-order,
	// duplicates included
	References []string
	// Tags holds deduplicated labels in first-seen order, with every
	// ancestor of a nested label included
	Tags []string
}

// Extract scans a content tree for block references and hashtags.
// Go regexps hold no match cursor between calls, so a shared compiled pattern
// is safe for repeated and concurrent use.
func Extract(blocks []entities.ContentBlock) Extraction {
	var result Extraction
	seenTags := make(map[string]struct{})

	walkBlocks(blocks, func(block *entities.ContentBlock) {
		if block.BodyText == "" {
			return
		}
		result.References = append(result.References, referenceTargets(block.BodyText)...)
		for _, label := range hashtagLabels(block.BodyText) {
			for _, expanded := range expandTag(label) {
				if _, seen := seenTags[expanded]; seen {
					continue
				}
				seenTags[expanded] = struct{}{}
				result.Tags = append(result.Tags, expanded)
			}
		}
	})

	return result
}

func referenceTargets(text string) []string {
	matches := blockReferencePattern.FindAllStringSubmatch(text, -1)
	targets := make([]string, 0, len(matches))
	for _, m := range matches {
		if target := strings.TrimSpace(m[1]); target != "" {
			targets = append(targets, target)
		}
	}
	return targets
}

func hashtagLabels(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)
	labels := make([]string, 0, len(matches))
	for _, m := range matches {
		labels = append(labels, m[1])
	}
	return labels
}

// expandTag returns every ancestor of a nested label followed by the label
// itself: a/b/c -> a, a/b, a/b/c
func expandTag(label string) []string {
	segments := strings.Split(label, "/")
	expanded := make([]string, 0, len(segments))
	for i := range segments {
		expanded = append(expanded, strings.Join(segments[:i+1], "/"))
	}
	return expanded
}

// walkBlocks visits every block in depth-first pre-order using an explicit
// stack, so user-authored nesting depth cannot exhaust the goroutine stack
func walkBlocks(blocks []entities.ContentBlock, visit func(*entities.ContentBlock)) {
	stack := make([]*entities.ContentBlock, 0, len(blocks))
	for i := len(blocks) - 1; i >= 0; i-- {
		stack = append(stack, &blocks[i])
	}

	for len(stack) > 0 {
		block := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visit(block)

		for i := len(block.Children) - 1; i >= 0; i-- {
			stack = append(stack, &block.Children[i])
		}
	}
}
