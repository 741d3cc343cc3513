// Package packaging implements the nested archive format used to ship test
// inputs to agents and to collect report outputs from them.
//
// A package is a container at one of three levels:
//
//	Suite        children: one Environment per name
//	Environment  children: one Step per integer index
//	Step         files at their packaged relative path
//
// Each level is a zip archive whose first entry, MetadataEntry, identifies
// the container (kind, environment name or step index). Child containers are
// stored as nested archives under "environments/" or "steps/". Writing is
// depth-first: children are packed into temporary archives which are then
// embedded in the parent. Reading locates and parses the metadata entry of a
// level before recursing into its children.
package packaging
