// Package bundle concatenates the bundle-mode modules reachable from an entry
// into a single script with a small module runtime.
//
// Every module is registered in a table keyed by its context-relative ID
// together with a map from the specifiers it imports to the IDs they
// resolved to. The runtime's require resolves through that map and caches
// each module object before executing it, so modules in a tolerated cycle
// observe each other's partially initialized exports.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/conneroisu/weft/internal/types"
)

// Options configures bundling.
type Options struct {
	// Context is the project root module IDs are made relative to.
	Context string
	// PublicPath returns the served URL of a module emitted as a standalone
	// file. Requiring such a module yields that URL. May be nil.
	PublicPath func(types.AssetID) string
}

const prelude = `(function (modules, entry) {
  var cache = {};
  function interop(m) {
    return m && m.default !== undefined ? m.default : m;
  }
  function load(id) {
    if (cache[id]) {
      return cache[id].exports;
    }
    var module = (cache[id] = { id: id, exports: {} });
    var def = modules[id];
    def[0].call(module.exports, module, module.exports, function (spec) {
      var dep = def[1][spec];
      if (dep === undefined) {
        throw new Error("Cannot find module '" + spec + "' from '" + id + "'");
      }
      return load(dep);
    }, interop);
    return module.exports;
  }
  return load(entry);
})({
`

// Bundle returns the bundle of entry, or nil when the entry module is not a
// bundle-mode module. Modules are emitted in dependency-first order.
func Bundle(graph *types.ModuleGraph, entry types.Entry, opts Options) ([]byte, error) {
	root, ok := graph.Node(entry.ID)
	if !ok {
		return nil, fmt.Errorf("entry %q: module %s not in graph", entry.Name, entry.ID)
	}
	if root.Emit != types.EmitBundle {
		return nil, nil
	}

	var buf bytes.Buffer
	buf.WriteString(prelude)

	for _, id := range graph.OrderFrom(entry.ID) {
		node := graph.Nodes[id]
		key, err := json.Marshal(id.Rel(opts.Context))
		if err != nil {
			return nil, err
		}
		imports, err := importTable(node, opts.Context)
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteString(": [function (module, exports, require, __weft_default) {\n")
		buf.Write(moduleBody(node, opts))
		buf.WriteString("\n}, ")
		buf.Write(imports)
		buf.WriteString("],\n")
	}

	entryKey, err := json.Marshal(entry.ID.Rel(opts.Context))
	if err != nil {
		return nil, err
	}
	buf.WriteString("}, ")
	buf.Write(entryKey)
	buf.WriteString(");\n")
	return buf.Bytes(), nil
}

// moduleBody returns the executable body registered for node.
func moduleBody(node *types.ModuleNode, opts Options) []byte {
	switch node.Emit {
	case types.EmitBundle:
		return RewriteModuleSyntax(node.Content)
	case types.EmitFile:
		url := ""
		if opts.PublicPath != nil {
			url = opts.PublicPath(node.ID)
		}
		encoded, _ := json.Marshal(url)
		return append(append([]byte("module.exports = "), encoded...), ';')
	default:
		return nil
	}
}

// importTable renders the specifier map of node as a JSON object with keys
// in lexical order.
func importTable(node *types.ModuleNode, context string) ([]byte, error) {
	specs := make([]string, 0, len(node.Imports))
	for spec := range node.Imports {
		specs = append(specs, spec)
	}
	sort.Strings(specs)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, spec := range specs {
		if i > 0 {
			buf.WriteString(", ")
		}
		k, err := json.Marshal(spec)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(node.Imports[spec].Rel(context))
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
