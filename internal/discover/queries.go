// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discover

// Query is one named ADS search. Rows caps how many documents the index
// returns for it.
type Query struct {
	Name string
	Q    string
	Rows int
}

// DefaultQueries returns the built-in query set: a broad author/year sweep
// plus targeted per-journal queries that catch documents the sweep misses.
func DefaultQueries() []Query {
	return []Query{
		{Name: "base", Q: `(author:"Einstein, A." OR author:"Einstein, Albert") year:1901-1955`, Rows: 2000},
		{Name: "spaw", Q: `author:"Einstein" bibstem:SPAW year:1914-1932`, Rows: 1000},
		{Name: "vdpg", Q: `author:"Einstein" (pub:"Verhandlungen der Deutschen Physikalischen Gesellschaft" OR bibstem:VDPG)`, Rows: 1000},
		{Name: "natur", Q: `author:"Einstein" (pub:"Die Naturwissenschaften" OR bibstem:Natur)`, Rows: 1000},
		{Name: "cras", Q: `author:"Einstein" (pub:"Comptes Rendus" OR bibstem:CRAS)`, Rows: 1000},
		{Name: "jfi", Q: `author:"Einstein" pub:"Journal of the Franklin Institute"`, Rows: 1000},
		{Name: "cjm", Q: `author:"Einstein" (pub:"Canadian Journal of Mathematics" OR bibstem:CJM)`, Rows: 1000},
		{Name: "phyz", Q: `author:"Einstein" (pub:"Physikalische Zeitschrift" OR bibstem:PhyZ)`, Rows: 1000},
		{Name: "zphy", Q: `author:"Einstein" (pub:"Zeitschrift für Physik" OR bibstem:ZPhy)`, Rows: 1000},
		{Name: "nature", Q: `author:"Einstein" pub:"Nature"`, Rows: 1000},
		{Name: "science", Q: `author:"Einstein" pub:"Science"`, Rows: 1000},
		{Name: "rvmp", Q: `author:"Einstein" (pub:"Reviews of Modern Physics" OR bibstem:RvMP)`, Rows: 1000},
		{Name: "sciam", Q: `author:"Einstein" pub:"Scientific American"`, Rows: 1000},
		{Name: "annmath", Q: `author:"Einstein" pub:"Annals of Mathematics"`, Rows: 1000},
	}
}
