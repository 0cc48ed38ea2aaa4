// Package crawler holds the data model shared by every stage of the
// crawl-and-detect engine: roster sites, fetched pages, evidence, category
// results and detection records, together with the interfaces the stages
// use to talk to each other and the error taxonomy they report with.
package crawler
