package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yngvem/zebrafish-bloodflow/pkg/config"
	"github.com/yngvem/zebrafish-bloodflow/pkg/pipeline"
	"github.com/yngvem/zebrafish-bloodflow/pkg/session"
)

func main() {
	// Parse command line arguments
	input := flag.String("input", "", "ROI vertex file, or a directory searched for *"+session.VertexFileSuffix+" files")
	outputDir := flag.String("output", "", "Directory for processed vertex files (default: overwrite the input files)")
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	writeGeoJSON := flag.Bool("geojson", false, "Also write each processed session as GeoJSON")
	numCores := flag.Int("cores", 0, "Number of ROIs processed in parallel (overrides config)")
	kNeighbours := flag.Int("k", 0, "Neighbours per skeleton pixel when ordering (overrides config)")
	normalLength := flag.Int("normal-length", 0, "Centerline steps used to estimate end directions (overrides config)")
	bounds := flag.Float64("bounds", 0, "Half side of the clipping squares in pixels (overrides config)")
	saveIntermediary := flag.Bool("save-intermediary", false, "Save stage images for every ROI (overrides config)")
	intermediaryDir := flag.String("intermediary-dir", "", "Directory for stage images (overrides config)")
	clean := flag.Bool("clean", false, "Delete every vertex file under -input instead of processing")
	dryRun := flag.Bool("dry-run", false, "With -clean, only list the files that would be deleted")
	initConfig := flag.String("init-config", "", "Write a default configuration file to this path and exit")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			log.Fatalf("Failed to create config file: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return
	}

	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}

	if *clean {
		files, err := session.DeleteVertexFiles(*input, *dryRun)
		if err != nil {
			log.Fatalf("Failed to delete vertex files: %v", err)
		}
		verb := "Deleted"
		if *dryRun {
			verb = "Would delete"
		}
		for _, f := range files {
			fmt.Printf("%s %s\n", verb, f)
		}
		fmt.Printf("%s %d vertex files\n", verb, len(files))
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Only flags given on the command line override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "k":
			cfg.Centerline.KNeighbours = *kNeighbours
		case "normal-length":
			cfg.Centerline.NormalEstimationLength = *normalLength
		case "bounds":
			cfg.Centerline.Bounds = *bounds
		case "save-intermediary":
			cfg.Output.SaveIntermediaryResults = *saveIntermediary
		case "intermediary-dir":
			cfg.Output.IntermediaryDir = *intermediaryDir
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid parameters: %v", err)
	}

	files, root, err := inputFiles(*input)
	if err != nil {
		log.Fatalf("Failed to find vertex files: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("No vertex files found in %s", *input)
	}

	params := cfg.ToParams()
	processor := pipeline.NewProcessor(params)
	if cfg.Output.Verbose {
		processor.SetProgressCallback(func(completed, total int, message string) {
			fmt.Printf("\r  [%d/%d] %s", completed, total, message)
			if completed == total {
				fmt.Println()
			}
		})
	}

	fmt.Printf("Processing %d vertex files with %d cores\n", len(files), params.NumCores)
	startTime := time.Now()

	var totalROIs, failedROIs int
	for _, file := range files {
		outPath := file
		if *outputDir != "" {
			rel, err := filepath.Rel(root, file)
			if err != nil {
				log.Fatalf("Failed to resolve output path for %s: %v", file, err)
			}
			outPath = filepath.Join(*outputDir, rel)
		}

		// Keep the stage images of different sessions apart
		if params.SaveIntermediaryResults {
			stem := strings.TrimSuffix(filepath.Base(file), session.VertexFileSuffix)
			params.IntermediaryDir = filepath.Join(cfg.Output.IntermediaryDir, stem)
		}

		rois, failed, err := processFile(processor, file, outPath, *writeGeoJSON)
		if err != nil {
			log.Printf("Warning: skipping %s: %v", file, err)
			continue
		}
		totalROIs += rois
		failedROIs += failed
	}

	fmt.Printf("\nProcessed %d ROIs (%d failed) in %.2f seconds\n", totalROIs, failedROIs, time.Since(startTime).Seconds())
	if params.SaveIntermediaryResults {
		fmt.Printf("Intermediary results saved to: %s\n", cfg.Output.IntermediaryDir)
	}
}

// inputFiles resolves -input to the vertex files to process and the root
// that output paths are made relative to
func inputFiles(input string) ([]string, string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, "", err
	}
	if !info.IsDir() {
		return []string{input}, filepath.Dir(input), nil
	}

	files, err := session.FindVertexFiles(input)
	if err != nil {
		return nil, "", err
	}
	return files, input, nil
}

// processFile runs every ROI of one session and writes the result
func processFile(processor *pipeline.Processor, inPath, outPath string, writeGeoJSON bool) (int, int, error) {
	doc, err := session.Load(inPath)
	if err != nil {
		return 0, 0, err
	}

	fmt.Printf("%s: %d ROIs on a %s image\n", inPath, len(doc.Vertices), doc.Shape())

	res, err := processor.ProcessSession(doc)
	if err != nil {
		return 0, 0, err
	}

	indices := make([]int, 0, len(res.Errors))
	for i := range res.Errors {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		log.Printf("Warning: %s: %v", inPath, res.Errors[i])
	}

	if err := session.Save(outPath, res.Document); err != nil {
		return 0, 0, err
	}

	if writeGeoJSON {
		data, err := session.ToGeoJSON(res.Document)
		if err != nil {
			return 0, 0, err
		}
		geoPath := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".geojson"
		if err := os.WriteFile(geoPath, data, 0644); err != nil {
			return 0, 0, fmt.Errorf("error writing GeoJSON: %w", err)
		}
	}

	return len(doc.Vertices), len(res.Errors), nil
}
