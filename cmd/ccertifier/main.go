package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/certifier"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/container"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/ctxlog"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/device"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/plugin"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/report"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/settings"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/watch"
)

// command describes a CLI subcommand.
type command struct {
	name  string
	short string
	usage string
	long  string
	run   func(ctx context.Context, args []string) error
}

// commands is filled in init: the run functions reach back into it for their
// usage lines, which a package-level initializer would reject as a cycle.
var commands []command

func init() {
	commands = []command{
		{
			name:  "analyze",
			short: "Certify firmware and write a compliance manifest",
			usage: "ccertifier analyze [flags] <firmware> <manifest.json>",
			long: `Extract the hazard contracts of every framework device, scan the firmware
(a .rs file or a directory) for device instantiations and write the
compliance manifest as JSON.

Without -devices the framework repository is cloned (or updated) into the
system temp directory and its devices are used.

Flags:
  -devices dir      local devices directory
  -framework url    framework repository to fetch
  -workers n        goroutines per pipeline (default: CPUs - 1)
  -quiet            do not print the report
  -strict           fail when any device is not compliant
  -log-level lvl    debug, info, warn or error
  -log-format fmt   text or json
`,
			run: runAnalyze,
		},
		{
			name:  "contracts",
			short: "Print the hazard contracts of the framework devices",
			usage: "ccertifier contracts [flags] [devices-dir]",
			long: `Extract and print, as YAML, the hazard contract of every device source.

Without a directory the framework repository is fetched first.

Flags:
  -framework url    framework repository to fetch
  -workers n        goroutines per pipeline
  -o file           write to file instead of stdout
`,
			run: runContracts,
		},
		{
			name:  "watch",
			short: "Re-certify firmware whenever its sources change",
			usage: "ccertifier watch [flags] <firmware> <manifest.json>",
			long: `Run analyze once, then again every time a .rs file under the firmware
changes. Denied paths are ignored. Stop with Ctrl-C.

Flags: as for analyze, plus
  -debounce d       quiet period before a run (default 300ms)
`,
			run: runWatch,
		},
		{
			name:  "init",
			short: "Create a new certification container",
			usage: "ccertifier init <name>",
			long: `Create a new container at ~/.ccertifier/<name>/.

Errors if the container already exists.
`,
			run: runInit,
		},
		{
			name:  "add",
			short: "Add a firmware project to a container",
			usage: "ccertifier add [-firmware path] [-devices dir] <container> <project>",
			long: `Add a new project to an existing container.

Prompts for the firmware path and devices directory unless -firmware is
given, then writes ~/.ccertifier/<container>/<project>.yaml.

Errors if the project already exists.
`,
			run: runAdd,
		},
		{
			name:  "certify",
			short: "Run all certifiers for every project in a container",
			usage: "ccertifier certify <container>",
			long: `Run certification for every project in the container.

For each project, runs the configured certifiers and writes their results to
~/.ccertifier/<container>/<project>/<certifier>/.
`,
			run: runCertify,
		},
		{
			name:  "status",
			short: "Show containers or the last results of a container",
			usage: "ccertifier status [container]",
			long: `Without arguments, list the containers. With a container name, show the
summary of the last certification of each project.
`,
			run: runStatus,
		},
		{
			name:  "export",
			short: "Export a container's results for review",
			usage: "ccertifier export [-m description] <container> <dir>",
			long: `Copy the latest results of every project into <dir>/<container>-certification/,
one directory per project and certifier, with an index.md description.
`,
			run: runExport,
		},
		{
			name:  "remove",
			short: "Remove a container or one of its projects",
			usage: "ccertifier remove <container> [project]",
			long: `Remove a whole container, or only the named project and its results.
`,
			run: runRemove,
		},
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "ccertifier — hazard certification for Ascot firmware\n\n")
	fmt.Fprintf(w, "Usage:\n  ccertifier <command> [arguments]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.name, cmd.short)
	}
	fmt.Fprintf(w, "\nRun 'ccertifier help <command>' for details on a specific command.\n")
}

func printCommandHelp(w io.Writer, name string) {
	for _, cmd := range commands {
		if cmd.name == name {
			fmt.Fprintf(w, "Usage: %s\n\n%s", cmd.usage, cmd.long)
			return
		}
	}
	fmt.Fprintf(w, "ccertifier: unknown command %q\n\nRun 'ccertifier help' for usage.\n", name)
}

func usageError(name string) error {
	for _, cmd := range commands {
		if cmd.name == name {
			return fmt.Errorf("usage: %s", cmd.usage)
		}
	}
	return fmt.Errorf("unknown command %q", name)
}

func dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(os.Stdout)
		return nil
	}
	if args[0] == "help" {
		if len(args) >= 2 {
			printCommandHelp(os.Stdout, args[1])
		} else {
			printUsage(os.Stdout)
		}
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(ctx, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q\n\nRun 'ccertifier help' for usage.", args[0])
}

// ---------------------------------------------------------------------------
// Flags shared by analyze, contracts and watch
// ---------------------------------------------------------------------------

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { printCommandHelp(os.Stderr, name) }
	return fs
}

// parse parses args into fs. ok is false when the command must stop, either
// because -h printed its help (err is nil) or because the flags are invalid.
func parse(fs *flag.FlagSet, args []string) (ok bool, err error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type runFlags struct {
	devices   string
	framework string
	workers   int
	logLevel  string
	logFormat string
}

func (f *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.devices, "devices", "", "local devices directory")
	fs.StringVar(&f.framework, "framework", "", "framework repository URL")
	fs.IntVar(&f.workers, "workers", 0, "goroutines per pipeline")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "text or json")
}

// setup loads the settings that govern a run over firmware, lets the flags
// override them and attaches the configured logger to ctx.
func (f *runFlags) setup(ctx context.Context, firmware string) (context.Context, certifier.Options, error) {
	root := certifier.SettingsRoot(firmware)
	s, err := settings.Load(root)
	if err != nil {
		return ctx, certifier.Options{}, err
	}
	if f.framework != "" {
		s.Framework.URL = f.framework
	}
	if f.workers > 0 {
		s.Workers = f.workers
	}
	if f.logLevel != "" {
		s.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		s.Log.Format = f.logFormat
	}
	ctx = ctxlog.WithLogger(ctx, ctxlog.New(s.Log.Level, s.Log.Format, os.Stderr))

	opts := certifier.FromSettings(s, root)
	if f.devices != "" {
		opts.Devices = f.devices
	}
	opts.Firmware = firmware
	return ctx, opts, nil
}

// ---------------------------------------------------------------------------
// analyze
// ---------------------------------------------------------------------------

func runAnalyze(ctx context.Context, args []string) error {
	fs := newFlagSet("analyze")
	var rf runFlags
	rf.register(fs)
	quiet := fs.Bool("quiet", false, "do not print the report")
	strict := fs.Bool("strict", false, "fail when any device is not compliant")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() != 2 {
		return usageError("analyze")
	}

	ctx, opts, err := rf.setup(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	opts.Manifest = fs.Arg(1)
	opts.Quiet = *quiet

	m, err := certifier.Analyze(ctx, opts)
	if err != nil {
		return err
	}
	sum := m.Summary()
	fmt.Printf("\n%d files, %d devices, %d non-compliant → %s\n", sum.Files, sum.Devices, sum.NonCompliant, opts.Manifest)
	if *strict && sum.NonCompliant > 0 {
		return fmt.Errorf("%d non-compliant devices", sum.NonCompliant)
	}
	return nil
}

// ---------------------------------------------------------------------------
// contracts
// ---------------------------------------------------------------------------

func runContracts(ctx context.Context, args []string) error {
	fs := newFlagSet("contracts")
	var rf runFlags
	rf.register(fs)
	output := fs.String("o", "", "output file")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() > 1 {
		return usageError("contracts")
	}
	if fs.NArg() == 1 {
		rf.devices = fs.Arg(0)
	}

	ctx, opts, err := rf.setup(ctx, ".")
	if err != nil {
		return err
	}
	devices, err := certifier.ResolveDevices(ctx, opts.Devices, opts.FrameworkURL)
	if err != nil {
		return err
	}
	contracts, err := certifier.Contracts(ctx, devices, opts.Workers, nil)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(contracts)
	if err != nil {
		return fmt.Errorf("marshal contracts: %w", err)
	}
	if *output == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(*output, out, 0o644)
}

// ---------------------------------------------------------------------------
// watch
// ---------------------------------------------------------------------------

func runWatch(ctx context.Context, args []string) error {
	fs := newFlagSet("watch")
	var rf runFlags
	rf.register(fs)
	quiet := fs.Bool("quiet", false, "do not print the report")
	debounce := fs.Duration("debounce", watch.DefaultDebounce, "quiet period before a run")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() != 2 {
		return usageError("watch")
	}

	ctx, opts, err := rf.setup(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	opts.Manifest = fs.Arg(1)
	opts.Quiet = *quiet
	if opts.Devices, err = certifier.ResolveDevices(ctx, opts.Devices, opts.FrameworkURL); err != nil {
		return err
	}
	if opts.Cache, err = device.NewCache(device.DefaultCacheSize); err != nil {
		return err
	}

	logger := ctxlog.FromContext(ctx)
	certify := func(ctx context.Context) {
		start := time.Now()
		if _, err := certifier.Analyze(ctx, opts); err != nil {
			logger.Error("certification failed", "err", err)
			return
		}
		logger.Info("manifest updated", "path", opts.Manifest, "took", time.Since(start).Round(time.Millisecond))
	}

	w, err := watch.New(opts.Firmware, opts.Deny)
	if err != nil {
		return err
	}
	defer w.Close()

	certify(ctx)
	logger.Info("watching", "path", opts.Firmware)
	return w.Run(ctx, *debounce, certify)
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func runInit(_ context.Context, args []string) error {
	if len(args) < 1 {
		return usageError("init")
	}
	c, err := container.Init(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("created container %q at %s\n", c.Name, c.Dir)
	return nil
}

// ---------------------------------------------------------------------------
// add
// ---------------------------------------------------------------------------

// newCertifiers returns the registry of available certifiers. They share one
// contract cache so projects built on the same framework parse it once.
func newCertifiers() (map[string]plugin.Certifier, error) {
	cache, err := device.NewCache(device.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	return map[string]plugin.Certifier{
		"hazard": &certifier.Plugin{Cache: cache},
	}, nil
}

func runAdd(_ context.Context, args []string) error {
	fs := newFlagSet("add")
	fw := fs.String("firmware", "", "firmware path")
	devices := fs.String("devices", "", "devices directory")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() < 2 {
		return usageError("add")
	}
	containerName, projectName := fs.Arg(0), fs.Arg(1)

	c, err := container.Open(containerName)
	if err != nil {
		return err
	}

	certifiers, err := newCertifiers()
	if err != nil {
		return err
	}
	// For now ccertifier ships only the "hazard" certifier.
	cert := certifiers["hazard"]
	questions, err := cert.Configure()
	if err != nil {
		return fmt.Errorf("configure certifier: %w", err)
	}

	var answers map[string]string
	if *fw != "" {
		answers = map[string]string{"firmware": *fw, "devices": *devices}
	} else if answers, err = promptQuestions(questions); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	if missing := plugin.Missing(questions, answers); len(missing) > 0 {
		return fmt.Errorf("missing answers for %v", missing)
	}
	if p := answers["firmware"]; !filepath.IsAbs(p) {
		if abs, err := filepath.Abs(p); err == nil {
			answers["firmware"] = abs
		}
	}

	cfg := container.ProjectConfig{
		Certifiers: map[string]map[string]string{
			cert.Name(): answers,
		},
	}
	if err := c.AddProject(projectName, cfg); err != nil {
		return err
	}
	fmt.Printf("added project %q to container %q\n", projectName, containerName)
	return nil
}

// ---------------------------------------------------------------------------
// certify
// ---------------------------------------------------------------------------

func runCertify(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usageError("certify")
	}
	containerName := args[0]

	c, err := container.Open(containerName)
	if err != nil {
		return err
	}

	projects, err := c.ListProjects()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Printf("no projects in container %q\n", containerName)
		return nil
	}

	certifiers, err := newCertifiers()
	if err != nil {
		return err
	}
	ctx = ctxlog.WithLogger(ctx, ctxlog.New("warn", "text", os.Stderr))

	var anyErr bool
	for _, proj := range projects {
		cfg, err := c.LoadProject(proj)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading project %q: %v\n", proj, err)
			anyErr = true
			continue
		}
		for _, name := range sortedKeys(cfg.Certifiers) {
			cert, ok := certifiers[name]
			if !ok {
				fmt.Fprintf(os.Stderr, "unknown certifier %q in project %q (skipping)\n", name, proj)
				anyErr = true
				continue
			}
			outputDir := c.OutputDir(proj, name)
			fmt.Printf("certifying %s/%s [%s]...\n", containerName, proj, name)
			if err := cert.Analyze(ctx, cfg.Certifiers[name], outputDir); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				anyErr = true
			} else {
				fmt.Printf("  done → %s\n", outputDir)
			}
		}
	}
	if anyErr {
		return fmt.Errorf("one or more errors during certification")
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// status
// ---------------------------------------------------------------------------

func runStatus(_ context.Context, args []string) error {
	if len(args) == 0 {
		names, err := container.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("no containers (run 'ccertifier init <name>' first)")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	c, err := container.Open(args[0])
	if err != nil {
		return err
	}
	projects, err := c.ListProjects()
	if err != nil {
		return err
	}
	for _, proj := range projects {
		cfg, err := c.LoadProject(proj)
		if err != nil {
			return err
		}
		for _, name := range sortedKeys(cfg.Certifiers) {
			fmt.Printf("%s [%s]: %s\n", proj, name, projectStatus(c.OutputDir(proj, name)))
		}
	}
	return nil
}

// projectStatus summarizes the report left in outputDir by the last run.
func projectStatus(outputDir string) string {
	data, err := os.ReadFile(filepath.Join(outputDir, certifier.ReportFile))
	if err != nil {
		return "not certified yet"
	}
	sum, err := report.ParseSummary(data)
	if err != nil {
		return "unreadable report: " + err.Error()
	}
	return fmt.Sprintf("%d files, %d devices, %d non-compliant", sum.Files, sum.Devices, sum.NonCompliant)
}

// ---------------------------------------------------------------------------
// export
// ---------------------------------------------------------------------------

func runExport(_ context.Context, args []string) error {
	fs := newFlagSet("export")
	description := fs.String("m", "", "description written to index.md")
	if ok, err := parse(fs, args); !ok {
		return err
	}
	if fs.NArg() < 2 {
		return usageError("export")
	}

	c, err := container.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	desc := *description
	if desc == "" {
		desc, err = defaultDescription(c)
		if err != nil {
			return err
		}
	}
	target, err := c.Export(fs.Arg(1), desc)
	if err != nil {
		return err
	}
	fmt.Printf("exported %q to %s\n", c.Name, target)
	return nil
}

// defaultDescription lists every project with its latest status.
func defaultDescription(c *container.Container) (string, error) {
	projects, err := c.ListProjects()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s certification\n\n", c.Name)
	for _, proj := range projects {
		cfg, err := c.LoadProject(proj)
		if err != nil {
			return "", err
		}
		for _, name := range sortedKeys(cfg.Certifiers) {
			fmt.Fprintf(&b, "- `%s-%s`: %s\n", proj, name, projectStatus(c.OutputDir(proj, name)))
		}
	}
	return b.String(), nil
}

// ---------------------------------------------------------------------------
// remove
// ---------------------------------------------------------------------------

func runRemove(_ context.Context, args []string) error {
	switch len(args) {
	case 1:
		if err := container.Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("removed container %q\n", args[0])
	case 2:
		c, err := container.Open(args[0])
		if err != nil {
			return err
		}
		if err := c.RemoveProject(args[1]); err != nil {
			return err
		}
		fmt.Printf("removed project %q from container %q\n", args[1], args[0])
	default:
		return usageError("remove")
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := dispatch(ctx, os.Args[1:])
	stop()
	if err != nil {
		log.Fatal(err)
	}
}
