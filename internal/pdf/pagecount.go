// Package pdf provides best-effort PDF metadata extraction.
package pdf

import "github.com/pdfcpu/pdfcpu/pkg/api"

// PageCount returns the number of pages in the PDF, or nil if the file
// cannot be parsed. Extraction failure never blocks ingest.
func PageCount(path string) *int {
	count, err := api.PageCountFile(path)
	if err != nil {
		return nil
	}
	return &count
}
