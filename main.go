package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mjl-/sconf"
	"golang.org/x/exp/slices"

	"github.com/mjl-/jsondb/config"
	"github.com/mjl-/jsondb/jsondb"
	"github.com/mjl-/jsondb/jsondbvar"
	"github.com/mjl-/jsondb/mlog"
)

func envString(k, def string) string {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	return s
}

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"get", cmdGet},
	{"set", cmdSet},
	{"update", cmdUpdate},
	{"push", cmdPush},
	{"delete", cmdDelete},
	{"exists", cmdExists},
	{"lookup", cmdLookup},
	{"createkey", cmdCreatekey},
	{"tables create", cmdTablesCreate},
	{"tables drop", cmdTablesDrop},
	{"migrate", cmdMigrate},
	{"backup", cmdBackup},
	{"verifydata", cmdVerifydata},
	{"config test", cmdConfigTest},
	{"config describe", cmdConfigDescribe},
	{"version", cmdVersion},
	{"help", cmdHelp},
	{"helpall", cmdHelpall},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		c := cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn}
		cmds = append(cmds, c)
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	unlisted bool   // If set, command is not listed until at least some words are matched from command.
	params   string // Arguments to command. Multiple lines possible.
	help     string // Additional explanation. First line is synopsis, the rest is only printed for an explicit help/usage for that command.
	args     []string

	log mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we run the command but panic after
	// the command has registered its flags and set its params and help. The
	// panic is caught by gather.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("jsondb "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		// panic generated by Parse.
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "jsondb " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) printUsage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
}

func (c *cmd) Usage() {
	c.printUsage()
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		if len(pre) > len(l) {
			return false
		}
		return slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, c := range cmds {
		if slices.Equal(c.words, args) {
			c.gather()
			fmt.Print(c.makeUsage())
			if c.help != "" {
				fmt.Print("\n" + c.help + "\n")
			}
			return
		} else if prefix(c.words, args) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, c := range partial {
		c.gather()
		fmt.Printf("jsondb %s\n", strings.Join(c.words, " "))
		if c.help != "" {
			fmt.Printf("\t%s\n", strings.Split(c.help, "\n")[0])
		}
	}
}

func cmdHelpall(c *cmd) {
	c.unlisted = true
	c.help = `Print all detailed usage and help information for all listed commands.

Used to generate documentation.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	n := 0
	for _, c := range cmds {
		c.gather()
		if c.unlisted {
			continue
		}
		if n > 0 {
			fmt.Println()
		}
		n++

		fmt.Printf("# jsondb %s\n\n", strings.Join(c.words, " "))
		if c.help != "" {
			fmt.Println(c.help)
		}
		s := c.makeUsage()
		s = "\t" + strings.ReplaceAll(s, "\n", "\n\t")
		fmt.Println(s)
	}
}

func usage(l []cmd, unlisted bool) {
	var lines []string
	if !unlisted {
		lines = append(lines, "jsondb [-config jsondb.conf] [-loglevel level] ...")
	}
	for _, c := range l {
		c.gather()
		if c.unlisted && !unlisted {
			continue
		}
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"jsondb"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var (
	configPath string
	loglevel   string // Empty means the level from the config file.
)

// mustLoadConfig parses the config file, exiting on errors, and applies its
// log levels. A -loglevel on the command-line overrides the default level.
func mustLoadConfig() *config.Config {
	conf, errs := config.ParseConfig(configPath)
	if len(errs) > 1 {
		log.Printf("multiple errors:")
		for _, err := range errs {
			log.Printf("%s", err)
		}
		os.Exit(1)
	} else if len(errs) == 1 {
		log.Fatalf("%s", errs[0])
	}
	if loglevel != "" {
		conf.Log[""] = mlog.Levels[loglevel]
	}
	mlog.SetConfig(conf.Log)
	return conf
}

// xopenStore loads the config and opens its store. The caller must close it.
func xopenStore(c *cmd) (*config.Config, *jsondb.Store) {
	conf := mustLoadConfig()
	s, err := conf.OpenStore(context.Background(), c.log, nil)
	xcheckf(err, "opening store")
	return conf, s
}

func xcloseStore(c *cmd, s *jsondb.Store) {
	err := s.Close()
	c.log.Check(err, "closing store")
}

// setupConsole sends log output through a tint handler, with colors when
// stderr is a terminal.
func setupConsole() {
	h := tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      mlog.LevelTrace, // Filtering happens in mlog.
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					if s, ok := mlog.LevelStrings[lvl]; ok {
						return slog.String(a.Key, s)
					}
				}
			}
			return a
		},
	})
	mlog.SetConsole(h)
}

func main() {
	log.SetFlags(0)

	flag.StringVar(&configPath, "config", envString("JSONDBCONF", "jsondb.conf"), "configuration file, defaults to $JSONDBCONF with a fallback to jsondb.conf")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, overrides the log level from the configuration file")
	var logfmt bool
	flag.BoolVar(&logfmt, "logfmt", false, "write logs in logfmt instead of colored console format")

	flag.Usage = func() { usage(cmds, false) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds, false)
	}

	if loglevel != "" {
		if _, ok := mlog.Levels[loglevel]; !ok {
			log.Fatalf("unknown loglevel %q", loglevel)
		}
		mlog.SetConfig(map[string]slog.Level{"": mlog.Levels[loglevel]})
	}
	if logfmt {
		mlog.Logfmt = true
	} else {
		setupConsole()
	}

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("jsondb "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""), nil)
		c.fn(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial, true)
	}
	usage(cmds, false)
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

func cmdConfigTest(c *cmd) {
	c.help = `Parses and validates the configuration file.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	_, errs := config.ParseConfig(configPath)
	if len(errs) > 1 {
		log.Printf("multiple errors:")
		for _, err := range errs {
			log.Printf("%s", err)
		}
		os.Exit(1)
	} else if len(errs) == 1 {
		log.Fatalf("%s", errs[0])
	}
	fmt.Println("config OK")
}

func cmdConfigDescribe(c *cmd) {
	c.params = ">jsondb.conf"
	c.help = `Prints an annotated empty configuration for use as jsondb.conf.

The printed configuration needs modifications to make it valid. For example,
it may contain unfinished list items.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	var sc config.Static
	err := sconf.Describe(os.Stdout, &sc)
	xcheckf(err, "describing config")
}

func cmdVersion(c *cmd) {
	c.help = "Prints this jsondb version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(jsondbvar.Version)
	fmt.Printf("%s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func cmdCreatekey(c *cmd) {
	c.help = `Prints a new unique key.

Keys are 20 characters, sort in order of creation and are safe to use as member
names in paths. Push appends array elements by index and does not use these
keys.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	_, s := xopenStore(c)
	defer xcloseStore(c, s)
	fmt.Println(s.CreateKey())
}

func cmdTablesCreate(c *cmd) {
	c.help = `Creates the tables of the store, if they do not exist.

Opening a store already creates its tables. This command is useful after
"jsondb tables drop".
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	_, s := xopenStore(c)
	defer xcloseStore(c, s)
	err := s.CreateTables(context.Background())
	xcheckf(err, "creating tables")
}

func cmdTablesDrop(c *cmd) {
	c.help = `Drops the tables of the store, removing all data.`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	_, s := xopenStore(c)
	defer xcloseStore(c, s)
	err := s.DropTables(context.Background())
	xcheckf(err, "dropping tables")
}
