// Package main is the entry point for the cseq2midi CLI
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/james-see/cseq2midi/pkg/api"
	"github.com/james-see/cseq2midi/pkg/bank"
	"github.com/james-see/cseq2midi/pkg/converter"
	"github.com/james-see/cseq2midi/pkg/gmid"
	"github.com/james-see/cseq2midi/pkg/logger"
	"github.com/james-see/cseq2midi/pkg/sbk"
	"github.com/james-see/cseq2midi/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const logLevelEnv = "CSEQ2MIDI_LOG_LEVEL"

var (
	outputFile   string
	logLevel     string
	noCompress   bool
	patternsFile string
	patternLog   string
	dumpDir      string
	serverPort   int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cseq2midi",
	Short: "Convert between N64 cseq sequences and standard MIDI files",
	Long: `cseq2midi converts Nintendo 64 compressed sequences (cseq) to format 1
MIDI files and back, preserving loops as MIDI controllers 102-105.

It also splits .sbk soundbanks into their sequences and reads .inst
instrument banks and .coef ADPCM codebooks.

Examples:
  cseq2midi convert song.seq -o song.mid
  cseq2midi cseq2midi song.seq --pattern-log song.patterns
  cseq2midi midi2cseq song.mid --patterns song.patterns
  cseq2midi split music.sbk -o sequences/
  cseq2midi inst bank.inst
  cseq2midi info song.mid
  cseq2midi tui
  cseq2midi serve --port 8080`,
	Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

var convertCmd = &cobra.Command{
	Use:   "convert <input>",
	Short: "Auto-detect and convert between cseq and MIDI",
	Long:  `Detects the input format from its extension or content and converts to the format named by the output extension.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

var cseq2midiCmd = &cobra.Command{
	Use:   "cseq2midi <input.seq>",
	Short: "Convert cseq to MIDI",
	Args:  cobra.ExactArgs(1),
	RunE:  runCseqToMIDI,
}

var midi2cseqCmd = &cobra.Command{
	Use:   "midi2cseq <input.mid>",
	Short: "Convert MIDI to cseq",
	Args:  cobra.ExactArgs(1),
	RunE:  runMIDIToCseq,
}

var splitCmd = &cobra.Command{
	Use:   "split <input.sbk>",
	Short: "Extract the sequences of a soundbank",
	Args:  cobra.ExactArgs(1),
	RunE:  runSplit,
}

var instCmd = &cobra.Command{
	Use:   "inst <input.inst>",
	Short: "Parse an instrument bank description and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runInst,
}

var coefCmd = &cobra.Command{
	Use:   "coef <input.coef>",
	Short: "Parse an ADPCM codebook and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runCoef,
}

var infoCmd = &cobra.Command{
	Use:   "info <input>",
	Short: "Summarise a MIDI or cseq file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error); $"+logLevelEnv+" when unset")
	rootCmd.PersistentFlags().BoolVar(&noCompress, "no-compress", false, "Read and write cseq tracks without pattern compression")

	convertCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (required)")
	convertCmd.Flags().StringVar(&patternsFile, "patterns", "", "Replay a recorded pattern list when writing cseq")
	convertCmd.Flags().StringVar(&patternLog, "pattern-log", "", "Record the patterns expanded while reading cseq")
	_ = convertCmd.MarkFlagRequired("output")

	cseq2midiCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")
	cseq2midiCmd.Flags().StringVar(&patternLog, "pattern-log", "", "Record the patterns expanded while reading cseq")
	cseq2midiCmd.Flags().StringVar(&dumpDir, "dump-unrolled", "", "Write each decompressed cseq track to this directory")

	midi2cseqCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .seq file path")
	midi2cseqCmd.Flags().StringVar(&patternsFile, "patterns", "", "Replay a recorded pattern list instead of searching")

	splitCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output directory (default: next to the input)")

	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "Server port")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(cseq2midiCmd)
	rootCmd.AddCommand(midi2cseqCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(instCmd)
	rootCmd.AddCommand(coefCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level := logLevel
	if !cmd.Flags().Changed("log-level") {
		if env := os.Getenv(logLevelEnv); env != "" {
			level = env
		}
	}
	return logger.InitLogger(level, cmd.ErrOrStderr())
}

func getOutputPath(input, defaultExt string) string {
	if outputFile != "" {
		return outputFile
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + defaultExt
}

// newConverter builds a converter from the command line flags. The returned
// function closes the pattern log and must be called once conversion is done.
func newConverter() (*converter.Converter, func() error, error) {
	opts := converter.Options{NoCompression: noCompress, Logger: logger.GetLogger()}
	done := func() error { return nil }

	if patternsFile != "" {
		f, err := os.Open(patternsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open pattern file: %w", err)
		}
		set, err := gmid.ParsePatternFile(f)
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", patternsFile, err)
		}
		opts.Patterns = set
	}
	if patternLog != "" {
		f, err := os.Create(patternLog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pattern log: %w", err)
		}
		opts.PatternLog = f
		done = f.Close
	}
	if dumpDir != "" {
		if err := os.MkdirAll(dumpDir, 0o755); err != nil {
			return nil, nil, err
		}
		opts.PostUnroll = func(track int, data []byte) error {
			return os.WriteFile(filepath.Join(dumpDir, fmt.Sprintf("track_%02d.bin", track)), data, 0o644)
		}
	}
	return converter.New(opts), done, nil
}

// convertWith runs one conversion and writes the result atomically.
func convertWith(input, output string, conv func(*converter.Converter, []byte) ([]byte, error)) error {
	c, done, err := newConverter()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(input)
	if err != nil {
		done()
		return err
	}
	result, err := conv(c, data)
	if cerr := done(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}
	if err := converter.WriteFileAtomic(output, result); err != nil {
		return err
	}
	fmt.Printf("Converted %s -> %s\n", input, output)
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	input := args[0]
	c, done, err := newConverter()
	if err != nil {
		return err
	}

	fmt.Printf("Converting %s -> %s\n", input, outputFile)
	err = c.ConvertFile(input, outputFile)
	if cerr := done(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Println("Conversion complete!")
	return nil
}

func runCseqToMIDI(cmd *cobra.Command, args []string) error {
	return convertWith(args[0], getOutputPath(args[0], ".mid"), (*converter.Converter).CseqToMIDI)
}

func runMIDIToCseq(cmd *cobra.Command, args []string) error {
	return convertWith(args[0], getOutputPath(args[0], ".seq"), (*converter.Converter).MIDIToCseq)
}

func runSplit(cmd *cobra.Command, args []string) error {
	input := args[0]
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	entries, err := sbk.Split(data, logger.GetLogger())
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}
	dir := outputFile
	if dir == "" {
		dir = filepath.Dir(input)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	paths, err := sbk.WriteEntries(dir, base, entries)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	fmt.Printf("Extracted %d sequences from %s\n", len(paths), input)
	return nil
}

// printJSON writes v indented when stdout is a terminal and compact
// otherwise.
func printJSON(w io.Writer, v any) error {
	var (
		data []byte
		err  error
	)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func runInst(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	bf, err := bank.ParseInst(bytes.NewReader(data), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), bf)
}

func runCoef(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	book, err := bank.ParseCoef(bytes.NewReader(data), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), book)
}

func runInfo(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	format := converter.DetectFormatFromContent(data)
	switch format {
	case converter.FormatMIDI:
		sum, err := converter.Inspect(data)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sum)
	case converter.FormatCseq:
		sum, err := converter.InspectCseq(data)
		if err != nil {
			return err
		}
		if err := converter.ValidateCseq(data); err != nil {
			logger.GetLogger().Warn("cseq track does not decompress", "file", args[0], "error", err)
		}
		return printJSON(cmd.OutOrStdout(), sum)
	}
	return fmt.Errorf("%s: neither a MIDI nor a cseq file", args[0])
}

func runTUI(cmd *cobra.Command, args []string) error {
	return tui.Run()
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Printf("Starting API server on port %d...\n", serverPort)
	return api.StartServer(serverPort)
}
