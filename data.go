package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"

	"github.com/mjl-/jsondb/jsondb"
	"github.com/mjl-/jsondb/migrate"
)

// readDocument returns the JSON document from args[i], or read from stdin if
// there is no such argument.
func readDocument(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	if isatty.IsTerminal(os.Stdin.Fd()) {
		log.Printf("reading json document from stdin, end with ctrl-d")
	}
	buf, err := io.ReadAll(os.Stdin)
	xcheckf(err, "reading document from stdin")
	return string(buf)
}

func cmdGet(c *cmd) {
	c.params = "path"
	c.help = `Prints the JSON document at path.

Top-level members or elements of the document can be bounded by key, limited in
number, and ordered. Deeper values than -depth are replaced by true. The
command exits with status 1 if nothing is stored at path.
`
	var opts jsondb.GetOptions
	var order string
	var filterField, filterValue string
	c.flag.IntVar(&opts.Depth, "depth", 0, "nesting depth of output, zero for unlimited")
	c.flag.BoolVar(&opts.PrettyPrint, "pretty", false, "indent output")
	c.flag.StringVar(&opts.Callback, "callback", "", "if set, wrap output in a call of this function")
	c.flag.StringVar(&order, "order", "asc", "order of top-level children, asc or desc")
	c.flag.StringVar(&opts.StartAt, "startat", "", "first key of top-level children, prefix match")
	c.flag.StringVar(&opts.StartAfter, "startafter", "", "only top-level children after this key")
	c.flag.StringVar(&opts.EndAt, "endat", "", "last key of top-level children, prefix match")
	c.flag.StringVar(&opts.EndBefore, "endbefore", "", "only top-level children before this key")
	c.flag.IntVar(&opts.LimitToFirst, "limit", 0, "maximum number of top-level children, zero for unlimited")
	c.flag.StringVar(&filterField, "field", "", "only top-level children with this field, relative path, equal to -value")
	c.flag.StringVar(&filterValue, "value", "", "string value for -field")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	switch jsondb.Order(order) {
	case jsondb.Asc, jsondb.Desc:
		opts.Order = jsondb.Order(order)
	default:
		log.Fatalf("unknown order %q, must be asc or desc", order)
	}
	if filterField != "" {
		opts.Filter = &jsondb.Filter{Field: filterField, Op: jsondb.OpEQ, Value: filterValue}
	}

	_, s := xopenStore(c)
	defer xcloseStore(c, s)

	found, err := s.GetTo(context.Background(), os.Stdout, args[0], opts)
	xcheckf(err, "get")
	if !found {
		xcloseStore(c, s)
		os.Exit(1)
	}
	fmt.Println()
}

func cmdSet(c *cmd) {
	c.params = "path [json]"
	c.help = `Replaces the document at path.

Everything stored at or below path is removed, along with values stored at
parent paths. If json is absent, the document is read from stdin.
`
	args := c.Parse()
	if len(args) != 1 && len(args) != 2 {
		c.Usage()
	}
	doc := readDocument(args, 1)

	_, s := xopenStore(c)
	defer xcloseStore(c, s)
	err := s.Set(context.Background(), args[0], doc)
	xcheckf(err, "set")
}

func cmdUpdate(c *cmd) {
	c.params = "path [json]"
	c.help = `Merges the members of a JSON object into the document at path.

Each member replaces the value at its own path, other members stay as they
are. Member names can be relative paths like "a/b". If json is absent, the
document is read from stdin.
`
	args := c.Parse()
	if len(args) != 1 && len(args) != 2 {
		c.Usage()
	}
	doc := readDocument(args, 1)

	_, s := xopenStore(c)
	defer xcloseStore(c, s)
	err := s.Update(context.Background(), args[0], doc)
	xcheckf(err, "update")
}

func cmdPush(c *cmd) {
	c.params = "path [json]"
	c.help = `Appends a value to the array at path and prints its key.

If json is absent, the document is read from stdin.
`
	args := c.Parse()
	if len(args) != 1 && len(args) != 2 {
		c.Usage()
	}
	doc := readDocument(args, 1)

	_, s := xopenStore(c)
	defer xcloseStore(c, s)
	key, err := s.Push(context.Background(), args[0], doc)
	xcheckf(err, "push")
	fmt.Println(key)
}

func cmdDelete(c *cmd) {
	c.params = "path"
	c.help = `Deletes the document at path.

The command exits with status 1 if nothing was stored at path.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	_, s := xopenStore(c)
	defer xcloseStore(c, s)
	deleted, err := s.Delete(context.Background(), args[0])
	xcheckf(err, "delete")
	if !deleted {
		xcloseStore(c, s)
		os.Exit(1)
	}
}

func cmdExists(c *cmd) {
	c.params = "path"
	c.help = `Checks whether a value is stored at or below path.

Prints true or false, and exits with status 1 for false.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	_, s := xopenStore(c)
	defer xcloseStore(c, s)
	exists, err := s.Exists(context.Background(), args[0])
	xcheckf(err, "exists")
	fmt.Println(exists)
	if !exists {
		xcloseStore(c, s)
		os.Exit(1)
	}
}

func cmdLookup(c *cmd) {
	c.params = "subtree field value"
	c.help = `Prints the paths of children of subtree with field set to value.

The field must be covered by an index in the configuration file, unless
UnindexedLookup is "scan".
`
	args := c.Parse()
	if len(args) != 3 {
		c.Usage()
	}

	_, s := xopenStore(c)
	defer xcloseStore(c, s)
	paths, err := s.FetchIDsByPropertyValue(context.Background(), args[0], args[1], args[2])
	xcheckf(err, "lookup")
	for _, p := range paths {
		fmt.Println(p)
	}
}

func cmdMigrate(c *cmd) {
	c.params = "target"
	c.help = `Records schema version target in the store.

The stored version is kept at ` + migrate.VersionPath + `. If the stored version is
higher than target, or with -reset, all data is removed first.
`
	var reset bool
	c.flag.BoolVar(&reset, "reset", false, "remove all data before recording the version")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	target, err := strconv.Atoi(args[0])
	xcheckf(err, "parsing target version")

	_, s := xopenStore(c)
	defer xcloseStore(c, s)
	r := migrate.Runner{Store: s, Target: target, Reset: reset, Log: c.log}
	from, to, err := r.Run(context.Background())
	xcheckf(err, "migrate")
	fmt.Printf("version %d -> %d\n", from, to)
}
