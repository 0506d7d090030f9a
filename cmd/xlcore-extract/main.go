package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gridspec/xlcore/xlcore"
)

var version = "dev"

type options struct {
	sheetName  string
	listSheets bool
	listVBA    bool
	vbaModule  string
	properties bool
	delimiter  rune
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("xlcore-extract", flag.ContinueOnError)
	fs.SetOutput(stderr)

	showVersion := fs.Bool("version", false, "show version")
	sheetName := fs.String("sheet", "", "worksheet name to dump as CSV")
	listSheets := fs.Bool("list-sheets", false, "list worksheet names")
	listVBA := fs.Bool("list-modules", false, "list VBA module names")
	vbaModule := fs.String("module", "", "dump the recovered source of a VBA module")
	properties := fs.Bool("properties", false, "print document properties")
	delimiterFlag := fs.String("delimiter", ",", "CSV delimiter")

	fs.Usage = func() {
		fmt.Fprint(stderr, usageText())
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	rest := fs.Args()
	if len(rest) < 1 {
		fs.Usage()
		return 2
	}

	delimiter, _ := utf8DecodeRune(*delimiterFlag)
	opts := options{
		sheetName:  *sheetName,
		listSheets: *listSheets,
		listVBA:    *listVBA,
		vbaModule:  *vbaModule,
		properties: *properties,
		delimiter:  delimiter,
	}

	if err := runExtract(rest[0], opts, stdout); err != nil {
		var xerr *xlcore.Error
		if errors.As(err, &xerr) && xerr.ID != "" {
			fmt.Fprintf(stderr, "%v (correlation id %s)\n", err, xerr.ID)
		} else {
			fmt.Fprintln(stderr, err)
		}
		return 1
	}
	return 0
}

func usageText() string {
	return `Usage:

  xlcore-extract [-list-sheets] [-sheet NAME] [-list-modules] [-module NAME]
                 [-properties] [-delimiter DELIMITER] xlsxfile

  -list-sheets          list worksheet names and exit
  -sheet NAME            dump the named worksheet as CSV
  -list-modules          list VBA module names and exit
  -module NAME           dump the recovered source of a VBA module
  -properties            print OLE document properties, if present
  -delimiter DELIMITER   CSV field delimiter (default: comma)
`
}

func runExtract(path string, opts options, stdout io.Writer) error {
	wb, err := xlcore.Open(path)
	if err != nil {
		return err
	}

	switch {
	case opts.listSheets:
		return listSheets(wb, stdout)
	case opts.sheetName != "":
		return dumpSheet(wb, opts, stdout)
	case opts.listVBA:
		return listModules(wb, stdout)
	case opts.vbaModule != "":
		return dumpModule(wb, opts.vbaModule, stdout)
	case opts.properties:
		return dumpProperties(wb, stdout)
	default:
		return fmt.Errorf("nothing to do: pass -list-sheets, -sheet, -list-modules, -module, or -properties")
	}
}

func listSheets(wb *xlcore.Workbook, stdout io.Writer) error {
	names, err := wb.SheetNames()
	if err != nil {
		return err
	}
	w := bufio.NewWriter(stdout)
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return w.Flush()
}

func dumpSheet(wb *xlcore.Workbook, opts options, stdout io.Writer) error {
	rng, err := wb.Worksheet(opts.sheetName)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(stdout)
	defer w.Flush()

	for row := rng.Origin.Row; row < rng.Origin.Row+rng.Extent.Height; row++ {
		for col := rng.Origin.Col; col < rng.Origin.Col+rng.Extent.Width; col++ {
			if col > rng.Origin.Col {
				w.WriteRune(opts.delimiter)
			}
			w.WriteString(formatValue(rng.At(row, col)))
		}
		w.WriteByte('\n')
	}
	return nil
}

func formatValue(v xlcore.Value) string {
	switch v.Kind {
	case xlcore.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case xlcore.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case xlcore.KindString:
		return maybeQuote(v.Str)
	default:
		return ""
	}
}

func maybeQuote(s string) string {
	if strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func listModules(wb *xlcore.Workbook, stdout io.Writer) error {
	if !wb.HasVBA() {
		return fmt.Errorf("workbook has no VBA project")
	}
	project, err := wb.VBAProject()
	if err != nil {
		return err
	}
	w := bufio.NewWriter(stdout)
	for _, m := range project.Modules {
		fmt.Fprintln(w, m.Name)
	}
	return w.Flush()
}

func dumpModule(wb *xlcore.Workbook, name string, stdout io.Writer) error {
	if !wb.HasVBA() {
		return fmt.Errorf("workbook has no VBA project")
	}
	project, err := wb.VBAProject()
	if err != nil {
		return err
	}
	for _, m := range project.Modules {
		if m.Name != name {
			continue
		}
		src, err := project.ModuleSource(m)
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, src)
		return err
	}
	return fmt.Errorf("module %q not found", name)
}

func dumpProperties(wb *xlcore.Workbook, stdout io.Writer) error {
	props, err := wb.DocumentProperties()
	if err != nil {
		return err
	}
	if props == nil {
		fmt.Fprintln(stdout, "no document properties found")
		return nil
	}
	fmt.Fprintf(stdout, "Title: %s\n", props.Title)
	fmt.Fprintf(stdout, "Subject: %s\n", props.Subject)
	fmt.Fprintf(stdout, "Author: %s\n", props.Author)
	fmt.Fprintf(stdout, "LastAuthor: %s\n", props.LastAuthor)
	fmt.Fprintf(stdout, "ApplicationName: %s\n", props.ApplicationName)
	return nil
}

func utf8DecodeRune(value string) (rune, int) {
	if value == "" {
		return ',', 0
	}
	for _, r := range value {
		return r, len(value)
	}
	return ',', 0
}
