// Package typedb loads and serves the type database an external analyzer
// produces for one interpreter, and tracks whether that database is still
// current.
//
// # Database directories
//
// A database directory holds one cache file per module ("os.idb",
// "json.decoder.idb"), the builtin module ("builtins.idb" for 3.x,
// "__builtin__.idb" for 2.x), a "database.ver" marker with the format
// version, and a "database.pid" file while the analyzer is writing it.
// Cache files are YAML or JSON mappings of members; see internal/cachefile.
//
// # Loading
//
// [NewDatabase] reads one or more directories, later ones overriding earlier
// ones. Modules are resolved lazily on first [Database.GetModule]. Type
// references that point at members not yet built are queued as fixups and
// drained before the module is published, so every reference resolves or
// degrades to the builtin object type:
//
//	db, err := typedb.NewDatabase(typedb.DatabaseConfig{Version: v}, "/var/db/3.7")
//	if err != nil { ... }
//	os := db.GetModule("os")
//	intType := db.BuiltinType(typedb.TypeIDInt)
//
// [Database.Clone], [Database.CloneWithNewBuiltins] and
// [Database.WithExtensionModule] layer a new database over an existing one
// without copying or mutating it. A structurally corrupt cache file marks the
// database corrupt and fires [Database.OnCorrupt] listeners once.
//
// # Freshness
//
// A [Factory] owns one interpreter's database directory:
//
//	f, err := typedb.NewFactory(cfg, typedb.WithLogger(logger))
//	if err != nil { ... }
//	st := f.RefreshIsCurrent()
//	db, err := f.GetCurrentDatabase()
//
// [Factory.RefreshIsCurrent] checks, in order, whether the analyzer is
// running, whether the version marker matches, and which expected modules
// have no cache file. Concurrent refreshes of one factory share a single
// scan; disk scans across factories are throttled. [Factory.Watch] refreshes
// automatically when the markers or the directory change.
//
// While the analyzed database is not current, [Factory.GetCurrentDatabase]
// serves the default database built from Config.BaselinePaths.
//
// # Regeneration and extensions
//
// [Factory.GenerateDatabase] runs the analyzer in the background and
// refreshes when it exits. [Factory.LoadExtensionModule] scrapes a compiled
// extension module once per file version, caching the result in a registry
// shared across processes (internal/extcache).
//
// # Expected modules
//
// The modules a database must contain come from a [ModuleEnumerator]: by
// default [LibraryEnumerator] walks Config.LibraryPath, and when
// Config.EnumerationScript is set a Risor script computes the list
// ([ScriptEnumerator], internal/runtime).
package typedb
