package configstore

// ConfigStore loads a configuration document into out.
type ConfigStore interface {
	Load(out any) error
}
