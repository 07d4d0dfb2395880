package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jward/typedb"
)

var flagLoad bool

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the modules of the served database",
	Long:  "Lists the modules of the analyzed database when it is current, or of the default database otherwise. --load resolves every module and reports its member count.",
	Args:  cobra.NoArgs,
	RunE:  runModules,
}

func init() {
	modulesCmd.Flags().BoolVar(&flagLoad, "load", false, "resolve every module and count its members")
}

func runModules(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, false)
	if err != nil {
		return outputError("modules", err)
	}
	defer s.Close()

	db, err := s.currentDatabase()
	if err != nil {
		return outputError("modules", err)
	}

	names := db.ModuleNames()
	out := make([]CLIModule, len(names))
	for i, name := range names {
		out[i] = CLIModule{Name: name}
	}
	if flagLoad {
		if err := preloadModules(cmd, db, out); err != nil {
			return outputError("modules", err)
		}
	}
	return outputResult(cmd, CLIResult{Command: "modules", Results: out})
}

// preloadModules resolves every module in parallel and fills in the member
// counts.
func preloadModules(cmd *cobra.Command, db *typedb.Database, mods []CLIModule) error {
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(runtime.NumCPU())
	for i := range mods {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m, err := db.RequireModule(mods[i].Name)
			if err != nil {
				return err
			}
			n := len(m.MemberNames())
			mods[i].MemberCount = &n
			mods[i].Builtin = m.IsBuiltin()
			return nil
		})
	}
	return g.Wait()
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <module> [member...]",
	Short: "Describe a module or one of its members",
	Long:  "Resolves a module and walks the given member path through modules and types, e.g. 'typedb lookup builtins int __add__'.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLookup,
}

func runLookup(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, false)
	if err != nil {
		return outputError("lookup", err)
	}
	defer s.Close()

	db, err := s.currentDatabase()
	if err != nil {
		return outputError("lookup", err)
	}
	mod, err := db.RequireModule(args[0])
	if err != nil {
		return outputError("lookup", err)
	}
	m, err := walkMembers(mod, args[1:])
	if err != nil {
		return outputError("lookup", err)
	}
	return outputResult(cmd, CLIResult{Command: "lookup", Results: describeMember(strings.Join(args, "."), m)})
}

// memberContainer is implemented by modules and types.
type memberContainer interface {
	Member(name string) typedb.Member
}

// walkMembers follows path from mod.
func walkMembers(mod *typedb.Module, path []string) (typedb.Member, error) {
	var cur typedb.Member = mod
	for i, name := range path {
		c, ok := cur.(memberContainer)
		if !ok {
			return nil, fmt.Errorf("%s is a %s and has no members", strings.Join(path[:i], "."), cur.MemberKind())
		}
		next := c.Member(name)
		if next == nil {
			return nil, fmt.Errorf("member not found: %s", strings.Join(path[:i+1], "."))
		}
		cur = next
	}
	return cur, nil
}

func describeMember(path string, m typedb.Member) CLIMember {
	out := CLIMember{Path: path, Kind: m.MemberKind().String(), Doc: m.Documentation()}
	switch v := m.(type) {
	case *typedb.Module:
		out.Members = v.MemberNames()
	case *typedb.Type:
		out.Members = v.MemberNames()
		for _, b := range v.Bases {
			out.Bases = append(out.Bases, b.QualifiedName())
		}
	case *typedb.Constant:
		out.Type = typeName(v.Type)
	case *typedb.Property:
		out.Type = typeName(v.Type)
	case *typedb.SequenceType:
		elems := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			elems[i] = typeName(e)
		}
		out.Type = fmt.Sprintf("%s[%s]", typeName(v.Type), strings.Join(elems, ", "))
	case *typedb.Function:
		out.Signatures = signatures(v)
	case *typedb.MethodDescriptor:
		out.Signatures = signatures(v.Function)
	case *typedb.MultipleMembers:
		for _, alt := range v.Members {
			out.Members = append(out.Members, alt.MemberKind().String())
		}
	}
	return out
}

func typeName(t *typedb.Type) string {
	if t == nil {
		return ""
	}
	return t.QualifiedName()
}

// signatures renders each overload as "(name: type, ...) -> type".
func signatures(fn *typedb.Function) []string {
	out := make([]string, 0, len(fn.Overloads))
	for _, o := range fn.Overloads {
		params := make([]string, len(o.Params))
		for i, p := range o.Params {
			s := p.Format + p.Name
			if len(p.Types) > 0 {
				s += ": " + joinTypes(p.Types)
			}
			if p.Default != "" {
				s += " = " + p.Default
			}
			params[i] = s
		}
		sig := "(" + strings.Join(params, ", ") + ")"
		if len(o.Returns) > 0 {
			sig += " -> " + joinTypes(o.Returns)
		}
		out = append(out, sig)
	}
	return out
}

func joinTypes(ts []*typedb.Type) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = typeName(t)
	}
	return strings.Join(names, " | ")
}
