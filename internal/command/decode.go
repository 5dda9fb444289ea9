package command

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joeycumines/goja-blocked-at/internal/report"
)

// DecodeCommand converts a CBOR report file, as written with -format cbor,
// into text or JSON lines.
type DecodeCommand struct {
	*BaseCommand
	format string
	filter string
	stdin  io.Reader
}

// NewDecodeCommand creates a new decode command.
func NewDecodeCommand() *DecodeCommand {
	return &DecodeCommand{
		BaseCommand: NewBaseCommand(
			"decode",
			"Print a CBOR report file as text or JSON",
			"decode [options] [file]",
		),
		stdin: os.Stdin,
	}
}

// SetupFlags configures the flags for the decode command.
func (c *DecodeCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.format, "format", string(report.FormatText), "Output format: text, json")
	fs.StringVar(&c.filter, "filter", "", "Only print records matching this expression")
}

// Execute decodes the file, or standard input when no file is given.
func (c *DecodeCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 1 {
		return usageError(stderr, "unexpected arguments: %v", args[1:])
	}
	if report.Format(c.format) == report.FormatCBOR {
		return usageError(stderr, "decode output cannot be cbor")
	}
	sink, err := report.NewSink(report.Format(c.format), stdout)
	if err != nil {
		return usageError(stderr, "%v", err)
	}
	var filter *report.Filter
	if c.filter != "" {
		if filter, err = report.NewFilter(c.filter); err != nil {
			return err
		}
	}

	in := c.stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open report file: %w", err)
		}
		defer f.Close()
		in = f
	}

	records, err := report.ReadCBOR(in)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if filter != nil {
			ok, err := filter.Match(rec)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}
		if err := sink.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
