package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"updateinfo/internal/config"
	"updateinfo/internal/debug"
	"updateinfo/internal/manifest"
	"updateinfo/internal/update"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

const spinnerDelay = 150 * time.Millisecond

func main() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
		os.Exit(1)
	}

	flags := registerFlags(flag.CommandLine)
	flag.Parse()

	if *flags.version {
		printVersion(os.Stdout)
		os.Exit(0)
	}

	visited := map[string]struct{}{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = struct{}{}
	})

	if flagWasExplicitlySet("channel", visited) {
		if err := config.ApplyOverrides(map[string]any{config.KeyChannel: *flags.channel}); err != nil {
			fmt.Fprintf(os.Stderr, "Error applying flags: %v\n", err)
			os.Exit(1)
		}
	}

	opts := computeRuntimeOptions(flags, visited)

	if err := debug.Init(opts.debug); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: debug log unavailable: %v\n", err)
	}

	profile := detectProfile(os.Stdout, opts.outputFormat)
	env := runEnv{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		resolve:     resolveSource,
		newSpinner:  func() fetchAnimator { return terminalSpinner(os.Stderr, profile) },
		clipboard:   defaultClipboard,
		saveChannel: config.SaveActiveChannel,
		preference:  config.ActiveChannelPreference{},
		profile:     profile,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, opts, env)
	stop()
	debug.Close()
	os.Exit(code)
}

type runtimeFlags struct {
	version      *bool
	channel      *string
	saveChannel  *bool
	all          *bool
	url          *string
	file         *string
	db           *string
	timeout      *time.Duration
	outputFormat *string
	width        *int
	commit       *string
	copy         *bool
	debug        *bool
}

// registerFlags defines the command line on fs with defaults taken from the
// loaded configuration.
func registerFlags(fs *flag.FlagSet) runtimeFlags {
	return runtimeFlags{
		version:      fs.Bool("version", false, "Print version information and exit"),
		channel:      fs.String("channel", config.GetString(config.KeyChannel), "Update channel to show (or set UPDATEINFO_CHANNEL)"),
		saveChannel:  fs.Bool("save-channel", false, "Persist the selected channel as the default"),
		all:          fs.Bool("all", false, "List every channel with its full changelog"),
		url:          fs.String("url", config.GetString(config.KeyManifestURL), "Manifest URL"),
		file:         fs.String("file", config.GetString(config.KeyManifestFile), "Read the manifest from a local file"),
		db:           fs.String("db", config.GetString(config.KeyManifestDatabase), "Read the manifest from a SQLite mirror"),
		timeout:      fs.Duration("timeout", config.FetchTimeout(), "Fetch timeout"),
		outputFormat: fs.String("format", config.GetString(config.KeyOutputFormat), "Changelog style (rich, light, plain)"),
		width:        fs.Int("width", config.OutputWidth(), "Wrap width for changelog text"),
		commit:       fs.String("commit", "", "Find changelog items by commit hash prefix"),
		copy:         fs.Bool("copy", false, "Copy the commit found by -commit to the clipboard"),
		debug:        fs.Bool("debug", config.GetBool(config.KeyDebug), "Write a debug log to ~/.updateinfo/debug.log"),
	}
}

type runtimeOptions struct {
	location       manifest.Location
	manifestFormat string
	timeout        time.Duration
	outputFormat   string
	width          int
	showAll        bool
	saveChannel    bool
	commit         string
	copyCommit     bool
	debug          bool
	version        string
}

func computeRuntimeOptions(flags runtimeFlags, visited map[string]struct{}) runtimeOptions {
	// Any explicit location flag replaces the configured location entirely,
	// so a configured database cannot shadow -url.
	location := manifest.Location{
		URL:      strings.TrimSpace(config.GetString(config.KeyManifestURL)),
		File:     strings.TrimSpace(config.GetString(config.KeyManifestFile)),
		Database: strings.TrimSpace(config.GetString(config.KeyManifestDatabase)),
	}
	if flagWasExplicitlySet("url", visited) || flagWasExplicitlySet("file", visited) || flagWasExplicitlySet("db", visited) {
		location = manifest.Location{
			URL:      strings.TrimSpace(*flags.url),
			File:     strings.TrimSpace(*flags.file),
			Database: strings.TrimSpace(*flags.db),
		}
	}

	timeout := config.FetchTimeout()
	if flagWasExplicitlySet("timeout", visited) && *flags.timeout > 0 {
		timeout = *flags.timeout
	}

	outputFormat := strings.TrimSpace(config.GetString(config.KeyOutputFormat))
	if flagWasExplicitlySet("format", visited) {
		outputFormat = strings.TrimSpace(*flags.outputFormat)
	}

	width := config.OutputWidth()
	if flagWasExplicitlySet("width", visited) {
		width = sanitizeWidth(*flags.width)
	}

	debugEnabled := config.GetBool(config.KeyDebug)
	if flagWasExplicitlySet("debug", visited) {
		debugEnabled = *flags.debug
	}

	return runtimeOptions{
		location:       location,
		manifestFormat: config.GetString(config.KeyManifestFormat),
		timeout:        timeout,
		outputFormat:   outputFormat,
		width:          width,
		showAll:        *flags.all,
		saveChannel:    *flags.saveChannel,
		commit:         strings.TrimSpace(*flags.commit),
		copyCommit:     *flags.copy,
		debug:          debugEnabled,
		version:        Version,
	}
}

func flagWasExplicitlySet(name string, visited map[string]struct{}) bool {
	_, ok := visited[name]
	return ok
}

func sanitizeWidth(width int) int {
	if width <= 0 {
		return config.DefaultOutputWidth
	}
	if width < minWidth {
		return minWidth
	}
	return width
}

// runEnv holds the side effects of a run so tests can replace them.
type runEnv struct {
	stdout      io.Writer
	stderr      io.Writer
	resolve     func(manifest.Location, time.Duration) (update.Transport, error)
	newSpinner  func() fetchAnimator
	clipboard   clipboardWriter
	saveChannel func(string) error
	preference  update.ChannelPreference
	profile     termenv.Profile
}

func resolveSource(loc manifest.Location, timeout time.Duration) (update.Transport, error) {
	src, err := manifest.Resolve(loc,
		manifest.WithTimeout(timeout),
		manifest.WithUserAgent("updateinfo/"+Version),
	)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// terminalSpinner returns nil unless w is an interactive terminal.
func terminalSpinner(w *os.File, profile termenv.Profile) fetchAnimator {
	if profile == termenv.Ascii || !isatty.IsTerminal(w.Fd()) {
		return nil
	}
	return newFetchSpinner(w, spinnerDelay)
}

type noopAnimator struct{}

func (noopAnimator) Stage(fetchStage, string) {}
func (noopAnimator) Stop()                    {}

// run performs one update check and returns the process exit code.
func run(ctx context.Context, opts runtimeOptions, env runEnv) int {
	var spin fetchAnimator = noopAnimator{}
	if env.newSpinner != nil {
		if s := env.newSpinner(); s != nil {
			spin = s
		}
	}
	if env.preference == nil {
		env.preference = update.StaticPreference(config.DefaultChannel)
	}

	spin.Stage(stageResolving, "")
	src, err := env.resolve(opts.location, opts.timeout)
	if err != nil {
		spin.Stop()
		_, _ = fmt.Fprintf(env.stderr, "Error: %v\n", err)
		return 1
	}
	format, err := manifest.ParseFormat(opts.manifestFormat)
	if err != nil {
		spin.Stop()
		_, _ = fmt.Fprintf(env.stderr, "Error: %v\n", err)
		return 1
	}
	source := fmt.Sprint(src)

	fetcher := update.NewFetcher(src,
		update.WithDecoder(manifest.NewDecoder(format)),
		update.WithRunningVersion(opts.version),
		update.WithPreference(env.preference),
		update.WithFetchTimeout(opts.timeout),
	)
	fetcher.Subscribe(func(update.FetchError) { spin.Stop() })

	spin.Stage(stageFetching, source)
	fetcher.StartFetch()
	fetchErr, err := fetcher.Wait(ctx)
	spin.Stop()
	if err != nil {
		_, _ = fmt.Fprintf(env.stderr, "Error: update check interrupted: %v\n", err)
		return 1
	}
	if handleFetchResult(env.stderr, fetchErr, fetcher.Err(), source) {
		return 1
	}

	p := newPrinter(env.stdout, opts.outputFormat, opts.width, env.profile)

	if opts.commit != "" {
		return runCommitLookup(fetcher, p, opts, env)
	}

	active := env.preference.ActiveChannelName()
	ch, ok := fetcher.ActiveChannel()
	if !ok && (opts.saveChannel || !opts.showAll) {
		_, _ = fmt.Fprintf(env.stderr, "Error: channel %q is not published (available: %s)\n",
			active, strings.Join(channelNames(fetcher.Channels()), ", "))
		return 1
	}
	if opts.saveChannel {
		if err := env.saveChannel(ch.Name); err != nil {
			_, _ = fmt.Fprintf(env.stderr, "Error: save channel: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(env.stderr, "Saved %q as the default channel.\n", ch.Name)
	}

	if opts.showAll {
		p.printChannels(fetcher.Channels(), active, true)
		return 0
	}
	p.printChannel(ch, true, false)
	return 0
}

func runCommitLookup(fetcher *update.Fetcher, p *printer, opts runtimeOptions, env runEnv) int {
	matches, err := fetcher.FindCommits(opts.commit)
	if err != nil {
		_, _ = fmt.Fprintf(env.stderr, "Error: %v\n", err)
		return 1
	}
	p.printCommits(opts.commit, matches)
	if len(matches) == 0 {
		return 1
	}
	if opts.copyCommit {
		commit, err := copyCommit(matches, env.clipboard)
		if err != nil {
			_, _ = fmt.Fprintf(env.stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(env.stderr, "Copied '%s' to clipboard.\n", commit)
	}
	return 0
}

func channelNames(channels []update.Channel) []string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name)
	}
	slices.Sort(names)
	return names
}
