package config

// A composable config loader modeled on the platform's loader: each
// With* call returns a copy of the loader with an additional step, so
// command implementations can declare their requirements and call
// LoadAndValidate() once.

type loaderFunction struct {
	name        string
	loader_func func(self *Loader, config_obj *Config) error
}

type Loader struct {
	steps []loaderFunction
}

func NewLoader() *Loader {
	return &Loader{}
}

func (self *Loader) Copy() *Loader {
	return &Loader{
		steps: append([]loaderFunction{}, self.steps...),
	}
}

// Merge a config file over the defaults, if one was given.
func (self *Loader) WithFileLoader(filename string) *Loader {
	if filename == "" {
		return self
	}

	self = self.Copy()
	self.steps = append(self.steps, loaderFunction{
		name: "FileLoader",
		loader_func: func(self *Loader, config_obj *Config) error {
			return LoadConfigFromFile(filename, config_obj)
		},
	})
	return self
}

// Command line flags override whatever the file said.
func (self *Loader) WithOverride(
	mutator func(config_obj *Config)) *Loader {

	self = self.Copy()
	self.steps = append(self.steps, loaderFunction{
		name: "Override",
		loader_func: func(self *Loader, config_obj *Config) error {
			mutator(config_obj)
			return nil
		},
	})
	return self
}

func (self *Loader) LoadAndValidate() (*Config, error) {
	config_obj := GetDefaultConfig()

	for _, step := range self.steps {
		err := step.loader_func(self, config_obj)
		if err != nil {
			return nil, err
		}
	}

	return config_obj, ValidateConfig(config_obj)
}
