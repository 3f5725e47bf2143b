// Package session tracks the lifecycle of submitted scripts.
//
// A Session correlates an external identifier with the isolated environment
// executing one script, from provisioning through completion to cleanup. The
// Registry is the single shared mutable structure in the system: a
// mutex-guarded map giving serialized create/read/delete access, while each
// Session guards its own mutable fields so status and cached output are
// never torn by concurrent polling and cleanup.
package session
