package ensemble

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"aegis/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const weightsSchema = `{
  "type": "object",
  "required": ["weights"],
  "additionalProperties": false,
  "properties": {
    "weights": {
      "type": "object",
      "propertyNames": {"enum": ["BULL", "BEAR", "SIDEWAY", "DEFAULT"]},
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "ma":   {"type": "number", "minimum": 0},
          "vwap": {"type": "number", "minimum": 0},
          "rsi":  {"type": "number", "minimum": 0}
        }
      }
    }
  }
}`

// WeightsFile 映射权重文件。
type WeightsFile struct {
	Weights map[string]Weights `yaml:"weights" json:"weights"`
}

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("weights.json", strings.NewReader(weightsSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("weights.json")
	})
	return schemaCompiled, schemaErr
}

// FileWeights 从 YAML 文件加载权重并注册到 Registry，文件变更时热加载。
type FileWeights struct {
	path     string
	registry *Registry
	v        *viper.Viper

	mu       sync.RWMutex
	version  int64
	loadedAt time.Time
}

// LoadFileWeights 读取并校验文件；watch=true 时监听后续变更。
func LoadFileWeights(path string, reg *Registry, watch bool) (*FileWeights, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("weights file requires path")
	}
	fw := &FileWeights{path: path, registry: reg}
	if err := fw.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read weights config failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				return
			}
			if err := fw.reload(); err != nil {
				logger.Errorf("weights reload failed, keeping previous set: %v", err)
			}
		})
		v.WatchConfig()
		fw.v = v
	}
	return fw, nil
}

func (fw *FileWeights) Version() int64 {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	return fw.version
}

func (fw *FileWeights) reload() error {
	file, err := ReadWeightsFile(fw.path)
	if err != nil {
		return err
	}
	byRegime, fallback := buildWeighters(file.Weights)
	fw.registry.Replace(byRegime, fallback)
	fw.mu.Lock()
	fw.version++
	fw.loadedAt = time.Now()
	fw.mu.Unlock()
	logger.Infof("ensemble weights loaded %d regimes from %s", len(file.Weights), filepath.Base(fw.path))
	return nil
}

// ReadWeightsFile 解析 YAML 并按 JSON schema 校验。
func ReadWeightsFile(path string) (WeightsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return WeightsFile{}, fmt.Errorf("read weights file failed: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return WeightsFile{}, fmt.Errorf("parse weights file failed: %w", err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return WeightsFile{}, fmt.Errorf("compile weights schema: %w", err)
	}
	// jsonschema 只接受 JSON 数据模型，先经过一次 JSON 往返。
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return WeightsFile{}, fmt.Errorf("weights file not representable as json: %w", err)
	}
	var doc any
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return WeightsFile{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return WeightsFile{}, fmt.Errorf("weights file invalid: %w", err)
	}
	var out WeightsFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return WeightsFile{}, fmt.Errorf("decode weights file failed: %w", err)
	}
	return out, nil
}

// SaveWeightsFile 以 YAML 写出权重。
func SaveWeightsFile(path string, file WeightsFile) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
