package signal

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"betexec/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemas    map[Kind]*jsonschema.Schema
	schemaErr  error
)

func loadSchemas() (map[Kind]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		files := map[Kind]string{
			KindArbitrage: "schema/arbitrage.json",
			KindStrategy:  "schema/strategy.json",
		}
		out := make(map[Kind]*jsonschema.Schema, len(files))
		for _, name := range files {
			raw, err := schemaFS.ReadFile(name)
			if err != nil {
				schemaErr = err
				return
			}
			if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
				schemaErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
		}
		for kind, name := range files {
			sch, err := compiler.Compile(name)
			if err != nil {
				schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			out[kind] = sch
		}
		schemas = out
	})
	return schemas, schemaErr
}

// Classify 判断信号形态：先看字段特征，字段不足以区分时退回到来源 channel。
func Classify(channel string, raw []byte) Kind {
	doc := gjson.ParseBytes(raw)
	if doc.Get("signalId").Exists() || doc.Get("primarySelection").Exists() {
		return KindStrategy
	}
	if doc.Get("backSelectionId").Exists() || doc.Get("laySelectionId").Exists() {
		return KindArbitrage
	}
	switch channel {
	case ChannelStrategy:
		return KindStrategy
	case ChannelArbitrage:
		return KindArbitrage
	}
	return KindUnknown
}

// Decode 解析并校验一条原始消息。所有错误都归类为 MalformedInput。
func Decode(channel string, raw []byte) (Signal, error) {
	if !gjson.ValidBytes(raw) {
		return Signal{}, types.Malformed("decode signal", fmt.Errorf("invalid json"))
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return Signal{}, types.Malformed("decode signal", fmt.Errorf("root must be an object"))
	}
	kind := Classify(channel, raw)
	if kind == KindUnknown {
		return Signal{}, types.Malformed("decode signal", fmt.Errorf("cannot determine signal kind on %q", channel))
	}
	all, err := loadSchemas()
	if err != nil {
		return Signal{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Signal{}, types.Malformed("decode signal", err)
	}
	if err := all[kind].Validate(doc); err != nil {
		return Signal{}, types.Malformed("validate "+kind.String()+" signal", err)
	}

	sig := Signal{Kind: kind}
	switch kind {
	case KindArbitrage:
		var a ArbitrageSignal
		if err := json.Unmarshal(raw, &a); err != nil {
			return Signal{}, types.Malformed("decode arbitrage signal", err)
		}
		sig.Arbitrage = &a
	case KindStrategy:
		var s StrategySignal
		if err := json.Unmarshal(raw, &s); err != nil {
			return Signal{}, types.Malformed("decode strategy signal", err)
		}
		sig.Strategy = &s
	}
	return sig, nil
}
