// Package state persists the small cross-run facts the orchestrator needs:
// cached check results, the selected target, payload properties, the
// last-observed verified-boot byte, mismatch tolerance, and user
// preferences.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketState = []byte("state")
	bucketPrefs = []byte("prefs")
)

// Keys in the state bucket.
const (
	KeyCheckResults      = "check_results"
	KeyTargetVersion     = "target_version"
	KeyPayloadProperties = "payload_properties"
	KeyPendingAlerts     = "pending_alerts"
	KeyVbmetaFlags       = "vbmeta_flags"
	KeyMismatchTolerated = "mismatch_tolerated"
	KeyRootAvailable     = "root_available"
	KeyUpdateNotified    = "update_notified"
	KeyNotifyCycleCount  = "notify_cycle_count"
)

// Prefs are the user-controlled switches consulted by the orchestrator and
// patch coordinator.
type Prefs struct {
	RequireUnmetered     bool `json:"require_unmetered"`
	RequireBatteryNotLow bool `json:"require_battery_not_low"`
	SkipPostInstall      bool `json:"skip_post_install"`
	EnableRootPatch      bool `json:"enable_root_patch"`
	EnableVbmetaPatch    bool `json:"enable_vbmeta_patch"`
	VerityOnly           bool `json:"verity_only"`
	AllowReinstall       bool `json:"allow_reinstall"`
	AutoSwitchSlot       bool `json:"auto_switch_slot"`
	AutoReboot           bool `json:"auto_reboot"`
	NotifyEveryCycles    int  `json:"notify_every_cycles"`
}

// DefaultPrefs mirror a stock install: patches off, conservative scheduling.
func DefaultPrefs() Prefs {
	return Prefs{
		RequireUnmetered:     true,
		RequireBatteryNotLow: true,
		NotifyEveryCycles:    1,
	}
}

// Store is a bbolt-backed key/value store with JSON values.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketState, bucketPrefs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create state buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutJSON stores v under key.
func (s *Store) PutJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put([]byte(key), data)
	})
}

// GetJSON loads key into v, reporting whether it was present.
func (s *Store) GetJSON(key string, v any) (bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketState).Get([]byte(key)); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Delete([]byte(key))
	})
}

// GetBool loads a boolean key, returning fallback when absent.
func (s *Store) GetBool(key string, fallback bool) (bool, error) {
	var v bool
	ok, err := s.GetJSON(key, &v)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}
	return v, nil
}

// SetBool stores a boolean key.
func (s *Store) SetBool(key string, v bool) error {
	return s.PutJSON(key, v)
}

// GetString loads a string key, returning "" when absent.
func (s *Store) GetString(key string) (string, error) {
	var v string
	if _, err := s.GetJSON(key, &v); err != nil {
		return "", err
	}
	return v, nil
}

// SetString stores a string key.
func (s *Store) SetString(key, v string) error {
	return s.PutJSON(key, v)
}

// Prefs loads the preference block, falling back to defaults when unset.
func (s *Store) Prefs() (Prefs, error) {
	prefs := DefaultPrefs()
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketPrefs).Get([]byte("prefs")); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return prefs, err
	}
	if data == nil {
		return prefs, nil
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		return DefaultPrefs(), fmt.Errorf("unmarshal prefs: %w", err)
	}
	return prefs, nil
}

// SetPrefs stores the preference block.
func (s *Store) SetPrefs(prefs Prefs) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrefs).Put([]byte("prefs"), data)
	})
}
