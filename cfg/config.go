// Package cfg loads the accounts to back up from a YAML file and the environment
package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL = "imap.gmail.com:993"
	DefaultBatchSize = 100
	DefaultAccount   = "default"

	ServiceMail     = "mail"
	ServiceCalendar = "calendar"
	ServiceContacts = "contacts"

	EnvUsername = "GOOGLE_BACKUP_USERNAME"
	EnvPassword = "GOOGLE_BACKUP_PASSWORD"
	EnvFilepath = "GOOGLE_BACKUP_FILEPATH"
	EnvServices = "GOOGLE_BACKUP_SERVICES"
)

var AllServices = []string{ServiceMail, ServiceCalendar, ServiceContacts}

type Config struct {
	Accounts map[string]Account `yaml:"accounts"`
}

type Account struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Keyring loads the password from the OS keyring when no password is configured
	Keyring  bool     `yaml:"keyring"`
	Root     string   `yaml:"root"`
	Services []string `yaml:"services"`

	ServerURL           string        `yaml:"serverURL"`
	NoTLS               bool          `yaml:"noTLS"`
	StartTLS            bool          `yaml:"startTLS"`
	SkipTLSVerification bool          `yaml:"skipTLSVerification"`
	Compress            bool          `yaml:"compress"`
	BatchSize           uint32        `yaml:"batchSize"`
	BandwidthLimit      int           `yaml:"bandwidthLimit"` // KiB/s
	DialTimeout         time.Duration `yaml:"dialTimeout"`
	CommandTimeout      time.Duration `yaml:"commandTimeout"`
	NoSymlink           bool          `yaml:"noSymlink"`

	CalendarURL string `yaml:"calendarURL"`
	ContactsURL string `yaml:"contactsURL"`
}

func newConfig() *Config {
	return &Config{
		Accounts: make(map[string]Account),
	}
}

// LoadFromFile loads the configuration from the file
func LoadFromFile(fileName string) (*Config, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Load(file)
}

// LoadFromFileOrEmpty returns an empty configuration when the file doesn't exist
func LoadFromFileOrEmpty(fileName string) (*Config, error) {
	config, err := LoadFromFile(fileName)
	if errors.Is(err, os.ErrNotExist) {
		return newConfig(), nil
	}
	return config, err
}

// Load the configuration from a reader
func Load(reader io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	config := newConfig()
	err := decoder.Decode(config)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if config.Accounts == nil {
		config.Accounts = make(map[string]Account)
	}
	return config, nil
}

// Account returns a copy of the account with the environment overrides applied.
// The default account only needs the environment.
func (c *Config) Account(name string, lookupEnv func(string) (string, bool)) (*Account, error) {
	if name == "" {
		name = DefaultAccount
	}
	account, ok := c.Accounts[name]
	if !ok && name != DefaultAccount {
		return nil, fmt.Errorf("account not found: %s", name)
	}
	if lookupEnv != nil {
		account.applyEnvironment(lookupEnv)
	}
	return &account, nil
}

func (a *Account) applyEnvironment(lookupEnv func(string) (string, bool)) {
	if value, ok := lookupEnv(EnvUsername); ok && value != "" {
		a.Username = value
	}
	if value, ok := lookupEnv(EnvPassword); ok && value != "" {
		a.Password = value
	}
	if value, ok := lookupEnv(EnvFilepath); ok && value != "" {
		a.Root = value
	}
	if value, ok := lookupEnv(EnvServices); ok && value != "" {
		a.Services = ParseServices(value)
	}
}

// ParseServices reads a comma separated list of services
func ParseServices(value string) []string {
	services := make([]string, 0, len(AllServices))
	for _, service := range strings.Split(value, ",") {
		service = strings.ToLower(strings.TrimSpace(service))
		if service != "" {
			services = append(services, service)
		}
	}
	return services
}

// Validate sets the default values and verifies the account can be backed up
func (a *Account) Validate() error {
	if a.Username == "" {
		return errors.New("missing username")
	}
	if a.Password == "" {
		return errors.New("missing password")
	}
	if a.ServerURL == "" {
		a.ServerURL = DefaultServerURL
	}
	if a.BatchSize == 0 {
		a.BatchSize = DefaultBatchSize
	}
	if a.BandwidthLimit < 0 {
		return fmt.Errorf("invalid bandwidth limit: %d", a.BandwidthLimit)
	}
	if a.Root == "" {
		a.Root = filepath.Join("backup", a.Username)
	}
	if len(a.Services) == 0 {
		a.Services = append([]string(nil), AllServices...)
	}
	for _, service := range a.Services {
		if !isService(service) {
			return fmt.Errorf("unknown service %q: expected one of %s", service, strings.Join(AllServices, ", "))
		}
	}
	return nil
}

// HasService returns true when the service is enabled for this account
func (a *Account) HasService(name string) bool {
	for _, service := range a.Services {
		if service == name {
			return true
		}
	}
	return false
}

func isService(name string) bool {
	for _, service := range AllServices {
		if service == name {
			return true
		}
	}
	return false
}
