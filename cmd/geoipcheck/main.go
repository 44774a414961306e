package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"

	"github.com/CVDpl/go-live-geoip/internal/common"
	"github.com/CVDpl/go-live-geoip/pkg/geoip"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/utils"
)

func main() {
	app := kingpin.New("geoipcheck", "Validate a geoip database file and print its metadata.")
	app.Version(geoip.Version)
	file := app.Flag("file", "Database file.").Short('f').Required().ExistingFile()
	mode := app.Flag("mode", "How to load the file: mmap or memory.").Default("mmap").Enum("mmap", "memory")
	want := app.Flag("blake3", "Expected BLAKE3-256 digest of the file.").String()
	verbose := app.Flag("verbose", "Log at debug level.").Short('v').Bool()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	level := common.LogLevelWarn
	if *verbose {
		level = common.LogLevelDebug
	}
	opts := geoip.DefaultOptions()
	opts.Logger = geoip.NewLogger(os.Stderr, level)
	if *mode == "memory" {
		opts.Mode = geoip.ModeMemory
	}

	if *want != "" {
		got, err := utils.ComputeBLAKE3File(*file)
		if err != nil {
			fmt.Println("BLAKE3:", err)
			os.Exit(1)
		}
		if !strings.EqualFold(got, *want) {
			fmt.Printf("BLAKE3 mismatch: want=%s got=%s\n", *want, got)
			os.Exit(1)
		}
		fmt.Println("BLAKE3: OK")
	}

	r, err := geoip.Open(*file, opts)
	if err != nil {
		fmt.Println("OPEN:", err)
		os.Exit(1)
	}
	defer r.Close()

	m := r.Metadata()
	fmt.Println("OPEN: OK")
	fmt.Printf("  size:           %s (%s)\n", humanize.IBytes(uint64(r.Size())), r.Mode())
	fmt.Printf("  database_type:  %s\n", m.DatabaseType)
	fmt.Printf("  format:         %d.%d\n", m.BinaryFormatMajorVersion, m.BinaryFormatMinorVersion)
	fmt.Printf("  ip_version:     %d\n", m.IPVersion)
	fmt.Printf("  record_size:    %d\n", m.RecordSize)
	fmt.Printf("  node_count:     %s\n", humanize.Comma(int64(m.NodeCount)))
	fmt.Printf("  build:          %s (%s)\n", m.BuildTime().Format(time.RFC3339), humanize.Time(m.BuildTime()))
	fmt.Printf("  languages:      %s\n", strings.Join(m.Languages, ", "))

	langs := make([]string, 0, len(m.Description))
	for lang := range m.Description {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		fmt.Printf("  description/%s: %s\n", lang, m.Description[lang])
	}

	digest, err := r.Digest()
	if err != nil {
		fmt.Println("DIGEST:", err)
		os.Exit(1)
	}
	fmt.Printf("  blake3:         %s\n", digest)

	// The root record of both address families must walk without error.
	for _, probe := range []string{"0.0.0.0", "::"} {
		if _, err := r.LookupString(probe); err != nil && !(m.IPVersion == common.IPv4 && probe == "::") {
			fmt.Printf("TREE: lookup %s: %v\n", probe, err)
			os.Exit(1)
		}
	}
	fmt.Println("TREE: OK")
}
