package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/fjordcrew/crewfront/internal"
	"github.com/fjordcrew/crewfront/internal/config"
	"github.com/fjordcrew/crewfront/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version":     config.Version,
		"environment": "development",
		"server": map[string]any{
			"baseURL":        "http://localhost:8080",
			"addr":           ":8080",
			"cookieDomain":   "",
			"allowedHosts":   []string{"localhost:8080"},
			"allowedOrigins": []string{"http://localhost:3000"},
			"loginPath":      "/logg-inn",
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "text",
		},
		"security": map[string]any{
			"secretKey":    map[string]string{"$env": "SECRET_KEY"},
			"healthSecret": map[string]string{"$env": "HEALTH_SECRET"},
			"sessionTtl":   "24h",
		},
		"identity": map[string]any{
			"provider":     "vipps",
			"environment":  "test",
			"clientId":     map[string]string{"$env": "VIPPS_CLIENT_ID"},
			"clientSecret": map[string]string{"$env": "VIPPS_CLIENT_SECRET"},
		},
		"kv": map[string]any{
			"type": "memory",
		},
		"storage": map[string]any{
			"type": "memory",
		},
		"uploads": map[string]any{
			"type":     "file",
			"dir":      "uploads",
			"maxBytes": config.DefaultMaxUploadBytes,
		},
		"email": map[string]any{
			"type":     "log",
			"from":     "post@example.no",
			"notifyTo": []string{"bemanning@example.no"},
		},
		"campaigns": []any{
			map[string]any{
				"id":        "nordsjo-2026",
				"title":     "Nordsjøen 2026",
				"positions": []string{"Matros", "Kokk", "Maskinist"},
			},
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			if err.Path != "" {
				fmt.Printf("  - %s: %s\n", err.Path, err.Message)
			} else {
				fmt.Printf("  - %s\n", err.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			if warn.Path != "" {
				fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
			} else {
				fmt.Printf("  - %s\n", warn.Message)
			}
		}
	}

	fmt.Println()
	switch {
	case len(result.Errors) > 0:
		fmt.Println("Result: FAIL")
		return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
	case len(result.Warnings) > 0:
		fmt.Println("Result: PASS (with warnings)")
	default:
		fmt.Println("Result: PASS")
	}
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	envFile := flag.String("env-file", "", "load environment variables from a .env file first (development)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.LogError("Failed to load env file: %v", err)
			os.Exit(1)
		}
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.LogError("Invalid logging config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting crewfront", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	app, err := internal.New(context.Background(), cfg, BuildVersion)
	if err != nil {
		log.LogError("Failed to create application: %v", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		log.LogError("Server stopped with error: %v", err)
		os.Exit(1)
	}
}
