package tracer

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ConfigFileEnvVar names the environment variable that points at
// the configuration file when no explicit path is given.
const ConfigFileEnvVar = "TRACELIB_CONFIGFILE"

// DefaultConfigFileName is looked up next to the executable when
// neither an explicit path nor the environment variable is set.
const DefaultConfigFileName = "tracelib.xml"

// Configuration is the parsed, immutable filter tree for one
// process.  Whole Configuration objects are installed atomically;
// the dispatcher never observes a half-built one.  The generation
// stamp invalidates per-site cached decisions (see TracePoint).
type Configuration struct {
	generation     uint64
	processName    string
	tracePointSets []*TracePointSet
	enabledKeys    map[string]bool

	serializerSpec serializerSpec
	outputSpec     outputSpec
}

// Generation returns the install stamp of this configuration.
func (c *Configuration) Generation() uint64 { return c.generation }

// actionForTracePoint walks the trace-point sets in declaration
// order; the first matching set decides.  A site whose key has
// been disabled via `<tracekeys>` is ignored outright.
func (c *Configuration) actionForTracePoint(tp *TracePoint) uint32 {
	if tp.Key != "" {
		if enabled, listed := c.enabledKeys[tp.Key]; listed && !enabled {
			return ActionIgnore
		}
	}
	for _, set := range c.tracePointSets {
		if actions, matched := set.actionForTracePoint(tp); matched {
			return actions
		}
	}
	return ActionIgnore
}

type serializerSpec struct {
	kind string // "xml" or "plaintext"
}

type outputSpec struct {
	kind   string // "stdout", "file" or "tcp"
	path   string
	append bool
	host   string
	port   int
}

func (c *Configuration) buildSerializer() (Serializer, error) {
	switch c.serializerSpec.kind {
	case "", "xml":
		return NewXMLSerializer(), nil
	case "plaintext":
		return NewPlaintextSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer type '%s'", c.serializerSpec.kind)
	}
}

func (c *Configuration) buildOutput() (Output, error) {
	switch c.outputSpec.kind {
	case "", "stdout":
		return NewStdoutOutput(), nil
	case "file":
		return NewFileOutput(c.outputSpec.path, c.outputSpec.append)
	case "tcp":
		return NewTCPOutput(c.outputSpec.host, c.outputSpec.port), nil
	default:
		return nil, fmt.Errorf("unknown output type '%s'", c.outputSpec.kind)
	}
}

// ResolveConfigFilePath resolves the configuration file location:
// the explicit path wins, then $TRACELIB_CONFIGFILE, then the
// default file name next to the executable.
func ResolveConfigFilePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(ConfigFileEnvVar); p != "" {
		return p
	}
	dir := ""
	if exe, err := os.Executable(); err == nil {
		dir = filepath.Dir(exe)
	}
	return filepath.Join(dir, DefaultConfigFileName)
}

// Wire representation of the `tracelib.xml` descriptor.

type xmlConfigDoc struct {
	XMLName   xml.Name           `xml:"tracelibConfiguration"`
	Processes []xmlConfigProcess `xml:"process"`
}

type xmlConfigProcess struct {
	Name          string               `xml:"name"`
	Serializer    *xmlConfigSerializer `xml:"serializer"`
	Output        *xmlConfigOutput     `xml:"output"`
	TraceKeys     *xmlConfigTraceKeys  `xml:"tracekeys"`
	TracePointSet []xmlConfigPointSet  `xml:"tracepointset"`
}

type xmlConfigSerializer struct {
	Type    string            `xml:"type,attr"`
	Options []xmlConfigOption `xml:"option"`
}

type xmlConfigOutput struct {
	Type    string            `xml:"type,attr"`
	Options []xmlConfigOption `xml:"option"`
}

type xmlConfigOption struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlConfigTraceKeys struct {
	Keys []xmlConfigKey `xml:"key"`
}

type xmlConfigKey struct {
	Enabled *bool  `xml:"enabled,attr"`
	Name    string `xml:",chardata"`
}

type xmlConfigPointSet struct {
	Action    string             `xml:"action,attr"`
	MatchAny  *xmlConfigCombiner `xml:"matchany"`
	MatchAll  *xmlConfigCombiner `xml:"matchall"`
	MatchNone *xmlConfigCombiner `xml:"matchnone"`
}

type xmlConfigCombiner struct {
	MatchAny         []xmlConfigCombiner `xml:"matchany"`
	MatchAll         []xmlConfigCombiner `xml:"matchall"`
	MatchNone        []xmlConfigCombiner `xml:"matchnone"`
	ProcessFilters   []xmlConfigPattern  `xml:"processfilter"`
	PathFilters      []xmlConfigPattern  `xml:"pathfilter"`
	FunctionFilters  []xmlConfigPattern  `xml:"functionfilter"`
	KeyFilters       []xmlConfigPattern  `xml:"keyfilter"`
	VerbosityFilters []xmlConfigPattern  `xml:"verbosityfilter"`
	TypeFilters      []xmlConfigPattern  `xml:"typefilter"`
}

type xmlConfigPattern struct {
	Mode    string `xml:"matchingmode,attr"`
	Pattern string `xml:",chardata"`
}

// LoadConfiguration reads and parses the descriptor at path and
// selects the `<process>` block matching processName (the base
// name of the executable).  A process without a matching block
// gets an empty configuration: every trace point resolves to
// Ignore.
//
// The returned Configuration has generation zero; the dispatcher
// stamps it on install.
func LoadConfiguration(path, processName string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewConfigFileMissingError(path)
		}
		return nil, NewConfigParseError(path, err)
	}
	return parseConfiguration(data, path, processName)
}

// parseConfiguration is split from LoadConfiguration primarily for
// writing test code against in-memory buffers.
func parseConfiguration(data []byte, path, processName string) (*Configuration, error) {
	var doc xmlConfigDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, NewConfigParseError(path, err)
	}

	cfg := &Configuration{
		processName: processName,
		enabledKeys: map[string]bool{},
	}

	var block *xmlConfigProcess
	for i := range doc.Processes {
		if strings.EqualFold(strings.TrimSpace(doc.Processes[i].Name), processName) {
			block = &doc.Processes[i]
			break
		}
	}
	if block == nil {
		return cfg, nil
	}

	if block.Serializer != nil {
		cfg.serializerSpec.kind = block.Serializer.Type
	}
	if block.Output != nil {
		spec, err := parseOutputSpec(block.Output)
		if err != nil {
			return nil, NewConfigParseError(path, err)
		}
		cfg.outputSpec = spec
	}
	if block.TraceKeys != nil {
		for _, k := range block.TraceKeys.Keys {
			name := strings.TrimSpace(k.Name)
			if name == "" {
				continue
			}
			enabled := true
			if k.Enabled != nil {
				enabled = *k.Enabled
			}
			cfg.enabledKeys[name] = enabled
		}
	}

	for i := range block.TracePointSet {
		set, err := parseTracePointSet(&block.TracePointSet[i], processName)
		if err != nil {
			return nil, NewConfigParseError(path, err)
		}
		cfg.tracePointSets = append(cfg.tracePointSets, set)
	}

	return cfg, nil
}

func parseOutputSpec(out *xmlConfigOutput) (outputSpec, error) {
	spec := outputSpec{kind: out.Type}
	for _, opt := range out.Options {
		value := strings.TrimSpace(opt.Value)
		switch opt.Name {
		case "filename":
			spec.path = value
		case "append":
			spec.append = value == "yes" || value == "true" || value == "1"
		case "host":
			spec.host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return spec, fmt.Errorf("output option 'port' invalid: '%s'", value)
			}
			spec.port = port
		default:
			return spec, fmt.Errorf("unknown output option '%s'", opt.Name)
		}
	}

	switch spec.kind {
	case "", "stdout":
	case "file":
		if spec.path == "" {
			return spec, fmt.Errorf("file output requires a 'filename' option")
		}
	case "tcp":
		if spec.host == "" {
			return spec, fmt.Errorf("tcp output requires a 'host' option")
		}
	default:
		return spec, fmt.Errorf("unknown output type '%s'", spec.kind)
	}
	return spec, nil
}

func parseTracePointSet(ps *xmlConfigPointSet, processName string) (*TracePointSet, error) {
	actions, err := parseAction(ps.Action)
	if err != nil {
		return nil, err
	}

	var filter Filter
	switch {
	case ps.MatchAny != nil:
		filter, err = buildCombiner(ps.MatchAny, combineAny, processName)
	case ps.MatchAll != nil:
		filter, err = buildCombiner(ps.MatchAll, combineAll, processName)
	case ps.MatchNone != nil:
		filter, err = buildCombiner(ps.MatchNone, combineNone, processName)
	default:
		filter = MatchAnyFilter{}
	}
	if err != nil {
		return nil, err
	}

	return &TracePointSet{Filter: filter, Actions: actions}, nil
}

func parseAction(action string) (uint32, error) {
	switch action {
	case "ignore":
		return ActionIgnore, nil
	case "", "log":
		return ActionLog, nil
	case "yieldBacktrace":
		return ActionYieldBacktrace, nil
	case "yieldVariables":
		return ActionYieldVariables, nil
	default:
		return ActionIgnore, fmt.Errorf("unknown tracepointset action '%s'", action)
	}
}

type combineKind int

const (
	combineAny combineKind = iota
	combineAll
	combineNone
)

func buildCombiner(c *xmlConfigCombiner, kind combineKind, processName string) (Filter, error) {
	var children []Filter

	add := func(f Filter, err error) error {
		if err != nil {
			return err
		}
		children = append(children, f)
		return nil
	}

	for i := range c.MatchAny {
		if err := add(buildCombiner(&c.MatchAny[i], combineAny, processName)); err != nil {
			return nil, err
		}
	}
	for i := range c.MatchAll {
		if err := add(buildCombiner(&c.MatchAll[i], combineAll, processName)); err != nil {
			return nil, err
		}
	}
	for i := range c.MatchNone {
		if err := add(buildCombiner(&c.MatchNone[i], combineNone, processName)); err != nil {
			return nil, err
		}
	}
	for _, p := range c.ProcessFilters {
		if err := add(buildPatternFilter(p, func(mode MatchingMode, pattern string) Filter {
			return &ProcessNameFilter{Mode: mode, Pattern: pattern, ProcessName: processName}
		})); err != nil {
			return nil, err
		}
	}
	for _, p := range c.PathFilters {
		if err := add(buildPatternFilter(p, func(mode MatchingMode, pattern string) Filter {
			return &PathFilter{Mode: mode, Pattern: pattern}
		})); err != nil {
			return nil, err
		}
	}
	for _, p := range c.FunctionFilters {
		if err := add(buildPatternFilter(p, func(mode MatchingMode, pattern string) Filter {
			return &FunctionFilter{Mode: mode, Pattern: pattern}
		})); err != nil {
			return nil, err
		}
	}
	for _, p := range c.KeyFilters {
		if err := add(buildPatternFilter(p, func(mode MatchingMode, pattern string) Filter {
			return &KeyFilter{Mode: mode, Pattern: pattern}
		})); err != nil {
			return nil, err
		}
	}
	for _, p := range c.VerbosityFilters {
		max, err := strconv.Atoi(strings.TrimSpace(p.Pattern))
		if err != nil {
			return nil, fmt.Errorf("verbosityfilter expects a number, got '%s'", p.Pattern)
		}
		children = append(children, &VerbosityFilter{MaxVerbosity: max})
	}
	for _, p := range c.TypeFilters {
		f, err := buildTypeFilter(p.Pattern)
		if err != nil {
			return nil, err
		}
		children = append(children, f)
	}

	switch kind {
	case combineAll:
		return &ConjunctionFilter{Children: children}, nil
	case combineNone:
		return &NegationFilter{Child: &DisjunctionFilter{Children: children}}, nil
	default:
		return &DisjunctionFilter{Children: children}, nil
	}
}

func buildPatternFilter(p xmlConfigPattern, ctor func(MatchingMode, string) Filter) (Filter, error) {
	mode, err := matchingModeByName(p.Mode)
	if err != nil {
		return nil, err
	}
	return ctor(mode, strings.TrimSpace(p.Pattern)), nil
}

func buildTypeFilter(spec string) (Filter, error) {
	types := map[TracePointType]bool{}
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t, ok := tracePointTypeByName(strings.ToLower(name))
		if !ok {
			return nil, fmt.Errorf("unknown trace point type '%s'", name)
		}
		types[t] = true
	}
	return &TypeFilter{Types: types}, nil
}
