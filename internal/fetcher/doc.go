// Package fetcher turns one candidate URL into a FetchedPage: a plain fetch,
// then at most one rendering fallback when the plain result looks empty or
// script-built.
package fetcher
