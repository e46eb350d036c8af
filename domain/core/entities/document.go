package entities

import (
	"strings"
	"time"
)

// DefaultTitle is used for documents and placeholders that carry no title
const DefaultTitle = "Untitled"

// Document is a content item exposed by the remote content API
type Document struct {
	ID             string     `json:"id"`
	Title          string     `json:"title,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	LastModifiedAt *time.Time `json:"lastModifiedAt,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
	ExternalLink   string     `json:"externalLink,omitempty"`
}

// DisplayTitle returns the title, falling back to DefaultTitle
func (d Document) DisplayTitle() string {
	if strings.TrimSpace(d.Title) == "" {
		return DefaultTitle
	}
	return d.Title
}

// Metadata returns the cached metadata copy of the document
func (d Document) Metadata() DocumentMetadata {
	return DocumentMetadata{
		ID:             d.ID,
		Title:          d.Title,
		LastModifiedAt: d.LastModifiedAt,
		CreatedAt:      d.CreatedAt,
		Deleted:        d.Deleted,
	}
}

// DocumentMetadata is the subset of a document persisted in snapshots and
// compared on refresh
type DocumentMetadata struct {
	ID             string     `json:"id"`
	Title          string     `json:"title,omitempty"`
	LastModifiedAt *time.Time `json:"lastModifiedAt,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
}

// MetadataOf converts a document listing to metadata, skipping documents
// flagged as deleted
func MetadataOf(docs []Document) []DocumentMetadata {
	out := make([]DocumentMetadata, 0, len(docs))
	for _, d := range docs {
		if d.Deleted || d.ID == "" {
			continue
		}
		out = append(out, d.Metadata())
	}
	return out
}

// ContentBlock is a node in a per-document content tree. A block whose ID
// equals the document ID is the document root.
type ContentBlock struct {
	ID       string         `json:"id"`
	BodyText string         `json:"markdown,omitempty"`
	Children []ContentBlock `json:"content,omitempty"`
}

// FolderMembership maps documents to the folder holding them
type FolderMembership struct {
	DocumentFolders map[string]string `json:"documentFolders"`
	FolderNames     map[string]string `json:"folderNames,omitempty"`
}

// FolderTitle returns the display name of a folder
func (m FolderMembership) FolderTitle(folderID string) string {
	if name, ok := m.FolderNames[folderID]; ok && name != "" {
		return name
	}
	return folderID
}

// IsEmpty reports whether no document has a folder assignment
func (m FolderMembership) IsEmpty() bool {
	return len(m.DocumentFolders) == 0
}
