package util

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/arbor/hierarchy"
	"github.com/jacentio/arbor/store/dynamo"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}

	return strings.Join(lines, "\n")
}

// SetupStoreFlags adds the DynamoDB connection flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "region"
	cmd.PersistentFlags().String(key, "", WrapString("AWS region. Defaults to the region of the shared config or AWS_REGION"))

	key = "profile"
	cmd.PersistentFlags().String(key, "", WrapString("Shared config profile to load credentials from"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, "", WrapString("DynamoDB endpoint override, e.g. http://localhost:8000 for DynamoDB Local"))

	key = "table-prefix"
	cmd.PersistentFlags().String(key, "", WrapString("Prefix prepended to every collection name to form the table name"))

	key = "eventual-reads"
	cmd.PersistentFlags().Bool(key, false, WrapString("Use eventually consistent reads for single, batch and scan reads"))

	key = "lock-collection"
	cmd.PersistentFlags().String(key, "arbor_locks", WrapString("Collection holding lock documents"))

	key = "lock-ttl"
	cmd.PersistentFlags().Duration(key, 0, WrapString("How long a lock document lives before DynamoDB reaps it (default 5m)"))
}

// InitConfig initializes configuration from env files and environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("arbor")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper and reads the config
// file if one was given
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return nil
}

// NewLogger builds the slog logger selected by --log-level and --log-format
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// GetLogger returns the logger configured through viper, writing to stderr
func GetLogger() (*slog.Logger, error) {
	return NewLogger(os.Stderr, viper.GetString("log-level"), viper.GetString("log-format"))
}

// GetStoreConfig reads the adapter configuration from viper
func GetStoreConfig() dynamo.Config {
	config := dynamo.DefaultConfig()
	config.TablePrefix = viper.GetString("table-prefix")
	config.EventualReads = viper.GetBool("eventual-reads")
	return config
}

// NewStore loads the AWS configuration and creates the DynamoDB store
func NewStore(ctx context.Context, logger *slog.Logger) (*dynamo.Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := viper.GetString("region"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if profile := viper.GetString("profile"); profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := viper.GetString("endpoint")
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return dynamo.New(client, GetStoreConfig(), dynamo.WithLogger(logger)), nil
}

// LevelConfig is one level of a path in the config file
type LevelConfig struct {
	Collection    string `mapstructure:"collection"`
	ChildrenField string `mapstructure:"children_field"`
	BackRefField  string `mapstructure:"backref_field"`
}

// PathConfig is a named path in the config file
type PathConfig struct {
	Name   string        `mapstructure:"name"`
	Levels []LevelConfig `mapstructure:"levels"`
}

// LoadRegistry reads the "paths" key and registers every path it describes
func LoadRegistry(v *viper.Viper) (*hierarchy.Registry, error) {
	var paths []PathConfig
	if err := v.UnmarshalKey("paths", &paths); err != nil {
		return nil, fmt.Errorf("decode paths: %w", err)
	}

	registry := hierarchy.NewRegistry()
	for i, pc := range paths {
		levels := make([]hierarchy.Level, len(pc.Levels))
		for j, lc := range pc.Levels {
			levels[j] = hierarchy.Level{
				Collection:    lc.Collection,
				ChildrenField: lc.ChildrenField,
				BackRefField:  lc.BackRefField,
			}
		}
		p, err := hierarchy.NewPath(pc.Name, levels...)
		if err != nil {
			return nil, fmt.Errorf("path %d: %w", i, err)
		}
		if err := registry.Register(p); err != nil {
			return nil, fmt.Errorf("path %d: %w", i, err)
		}
	}
	return registry, nil
}

// GetPath looks up the path selected by --path. With a single registered
// path the flag may be omitted.
func GetPath(registry *hierarchy.Registry, name string) (hierarchy.Path, error) {
	if name == "" {
		names := registry.Names()
		if len(names) != 1 {
			return hierarchy.Path{}, fmt.Errorf("--path is required when %d paths are configured", len(names))
		}
		name = names[0]
	}
	p, ok := registry.Get(name)
	if !ok {
		return hierarchy.Path{}, fmt.Errorf("unknown path %q", name)
	}
	return p, nil
}

// ReadJSON decodes a JSON flag value into v. A value of "-" reads from r.
func ReadJSON(value string, r io.Reader, v any) error {
	data := []byte(value)
	if value == "-" {
		var err error
		if data, err = io.ReadAll(r); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// PrintJSON writes v as indented JSON
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteMetrics dumps every registered metric in Prometheus text format
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
