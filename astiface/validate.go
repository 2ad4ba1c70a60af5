package astiface

import "strings"

// reservedPrefix mirrors engine.ReservedPrefix. astiface stays free of a
// core import so a parser can depend on this package alone; the core
// re-validates independently via Intern when it builds the graph, so a
// parser that skips this check still can't smuggle a reserved name in.
const reservedPrefix = "__"

// IsReservedName reports whether name falls in the engine-owned
// namespace and so cannot be used as a binding, link, or persistence id.
func IsReservedName(name string) bool {
	return strings.HasPrefix(name, reservedPrefix)
}

// ValidateProgram walks a parsed Program's bindings and link declarations
// and reports every binding or link name that collides with the reserved
// prefix, letting a parser surface all of those violations at once instead
// of failing on the first graph-build error. Other names (persistence ids,
// pattern binds, function parameters) are not checked here.
func ValidateProgram(p Program) []string {
	var problems []string
	for _, b := range p.Bindings() {
		if IsReservedName(b.Name()) {
			problems = append(problems, "reserved binding name: "+b.Name())
		}
	}
	for _, l := range p.Links() {
		if IsReservedName(l.Name()) {
			problems = append(problems, "reserved link name: "+l.Name())
		}
	}
	return problems
}
