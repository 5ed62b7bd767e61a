package turn

import (
	"strconv"
	"strings"

	"github.com/pithecene-io/chatrelay/types"
)

// ResolveDocuments builds the resolved view of a document set.
//
// Highlights are trimmed and empty ones dropped, order preserved. A document
// receives a citation ordinal only when citations carries an entry for it,
// looked up by db_doc_id first and document_id second; documents without an
// entry have a nil Citation.
func ResolveDocuments(docs []types.RawDocument, citations types.CitationMap) []types.ResolvedDocument {
	resolved := make([]types.ResolvedDocument, 0, len(docs))
	for _, doc := range docs {
		rd := types.ResolvedDocument{
			DocumentID: doc.DocumentID,
			DBDocID:    doc.DBDocID,
			Link:       doc.Link,
			Title:      types.Deref(doc.SemanticIdentifier),
			Score:      doc.Score,
			Highlights: trimHighlights(doc.MatchHighlights),
		}
		rd.Citation = lookupCitation(doc, citations)
		resolved = append(resolved, rd)
	}
	return resolved
}

// ApplyCitations re-resolves citation ordinals on already resolved documents.
// Documents absent from citations lose any previous ordinal.
func ApplyCitations(docs []types.ResolvedDocument, citations types.CitationMap) []types.ResolvedDocument {
	out := make([]types.ResolvedDocument, len(docs))
	for i, doc := range docs {
		doc.Highlights = append([]string(nil), doc.Highlights...)
		doc.Citation = lookupCitation(types.RawDocument{DocumentID: doc.DocumentID, DBDocID: doc.DBDocID}, citations)
		out[i] = doc
	}
	return out
}

func lookupCitation(doc types.RawDocument, citations types.CitationMap) *int {
	if len(citations) == 0 {
		return nil
	}
	if doc.DBDocID != nil {
		if n, ok := citations[strconv.FormatInt(*doc.DBDocID, 10)]; ok {
			return &n
		}
	}
	if doc.DocumentID != "" {
		if n, ok := citations[doc.DocumentID]; ok {
			return &n
		}
	}
	return nil
}

func trimHighlights(highlights []string) []string {
	out := make([]string, 0, len(highlights))
	for _, h := range highlights {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}
