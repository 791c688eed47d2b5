// Package utils holds the pagination arithmetic shared by handlers and
// services.
package utils

import (
	"strconv"
	"strings"
)

// Page size bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ParsePage reads the raw page and page_size query values. Missing or
// malformed values fall back to page 1 and DefaultPageSize; the result is
// then bounded by NormalizePage.
func ParsePage(page, pageSize string) (int, int) {
	return NormalizePage(parseInt(page, 1), parseInt(pageSize, DefaultPageSize))
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// NormalizePage bounds page to >= 1 and size to [1, MaxPageSize]; a size
// that is not positive becomes DefaultPageSize.
func NormalizePage(page, size int) (int, int) {
	page = max(page, 1)
	if size <= 0 {
		size = DefaultPageSize
	}
	return page, min(size, MaxPageSize)
}

// Offset is the row offset of a 1-based page.
func Offset(page, size int) int {
	return max(page-1, 0) * size
}

// TotalPages is ceil(total/size), or 0 when size is not positive.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total-1)/int64(size)) + 1
}
