package InputParameters

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/notargets/goplasma/mesh"
)

// Parameters obtained from the YAML input file
type InputParameters struct {
	Title    string             `yaml:"Title"`
	NOut     int                `yaml:"NOut"`     // Number of outputs
	TimeStep float64            `yaml:"TimeStep"` // Time between outputs
	Mesh     mesh.Config        `yaml:"Mesh"`
	Model    map[string]float64 `yaml:"Model"` // Physical parameters of the model, by name
	DDX      map[string]string  `yaml:"ddx"`   // Differencing method per derivative order, like first: C4
	DDY      map[string]string  `yaml:"ddy"`
	DDZ      map[string]string  `yaml:"ddz"`
	// Solver holds the keyed solver options, read through Options
	Solver map[string]interface{} `yaml:"solver"`
}

func (ip *InputParameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, ip)
}

func ReadFile(path string) (ip *InputParameters, opts *Options, err error) {
	var (
		data []byte
	)
	if path, err = homedir.Expand(path); err != nil {
		return
	}
	if data, err = os.ReadFile(path); err != nil {
		return
	}
	ip = &InputParameters{}
	if err = ip.Parse(data); err != nil {
		err = fmt.Errorf("parsing %s: %w", path, err)
		return
	}
	if opts, err = NewOptions(data); err != nil {
		err = fmt.Errorf("reading options from %s: %w", path, err)
	}
	return
}

// ModelParameter returns a named model parameter, def when absent
func (ip *InputParameters) ModelParameter(name string, def float64) float64 {
	if v, ok := ip.Model[name]; ok {
		return v
	}
	return def
}

func (ip *InputParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	fmt.Printf("[%d]\t\t\t\t= Number of outputs\n", ip.NOut)
	fmt.Printf("%8.5f\t\t= Time between outputs\n", ip.TimeStep)
	m := ip.Mesh
	fmt.Printf("[%d x %d x %d]\t\t= Global mesh\n", m.NX, m.NY, m.NZ)
	fmt.Printf("[%d x %d]\t\t\t= Subdomains\n", m.NXPE, m.NYPE)
	printMap := func(label string, mm map[string]string) {
		keys := make([]string, 0, len(mm))
		for k := range mm {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("%s[%s] = %s\n", label, key, mm[key])
		}
	}
	printMap("ddx", ip.DDX)
	printMap("ddy", ip.DDY)
	printMap("ddz", ip.DDZ)
	keys := make([]string, 0, len(ip.Model))
	for k := range ip.Model {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("Model[%s] = %v\n", key, ip.Model[key])
	}
}

// Options is the keyed option store of a run, values are looked up by section and key with a
// default for keys that are absent. Keys are case insensitive.
type Options struct {
	v *viper.Viper
}

func NewOptions(data []byte) (o *Options, err error) {
	o = &Options{v: viper.New()}
	o.v.SetConfigType("yaml")
	if len(data) == 0 {
		return
	}
	if err = o.v.ReadConfig(bytes.NewReader(data)); err != nil {
		o = nil
	}
	return
}

// Section returns the options under name, a nil Options gives a section of defaults
func (o *Options) Section(name string) *Section {
	return &Section{o: o, name: strings.ToLower(name)}
}

type Section struct {
	o    *Options
	name string
}

func (s *Section) key(k string) string { return s.name + "." + strings.ToLower(k) }

func (s *Section) IsSet(k string) bool {
	return s.o != nil && s.o.v.IsSet(s.key(k))
}

// Set overrides an option, used for command line overrides
func (s *Section) Set(k string, value interface{}) {
	if s.o == nil {
		panic("setting an option on a nil option store")
	}
	s.o.v.Set(s.key(k), value)
}

func (s *Section) GetFloat64(k string, def float64) float64 {
	if !s.IsSet(k) {
		return def
	}
	return s.o.v.GetFloat64(s.key(k))
}

func (s *Section) GetInt(k string, def int) int {
	if !s.IsSet(k) {
		return def
	}
	return s.o.v.GetInt(s.key(k))
}

func (s *Section) GetBool(k string, def bool) bool {
	if !s.IsSet(k) {
		return def
	}
	return s.o.v.GetBool(s.key(k))
}

func (s *Section) GetString(k string, def string) string {
	if !s.IsSet(k) {
		return def
	}
	return s.o.v.GetString(s.key(k))
}
