// Package prefs persists the link settings and status mirror in a bolt file
// so they survive restarts and can be read by other processes.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheCacophonyProject/blelink/internal/link"
	"github.com/boltdb/bolt"
	"github.com/sigurn/crc8"
)

const DefaultPath = "/var/lib/blelink/blelink.db"

var (
	bucketName  = []byte("blelink")
	settingsKey = []byte("settings")
	statusKey   = []byte("status")

	crcTable = crc8.MakeTable(crc8.Params{
		Poly:   0x31,
		Init:   0xFF,
		RefIn:  false,
		RefOut: false,
		XorOut: 0x00,
	})
)

var (
	ErrBadCRC   = errors.New("bad crc")
	errReadOnly = errors.New("store is read only")
)

type settingsRecord struct {
	TargetDeviceID              string `json:"targetDeviceId,omitempty"`
	AutoConnectEnabled          bool   `json:"autoConnectEnabled"`
	AllowBackgroundReconnection bool   `json:"allowBackgroundReconnection"`
}

type statusRecord struct {
	IsConnected                    bool    `json:"isConnected"`
	ConnectedDeviceName            string  `json:"connectedDeviceName,omitempty"`
	LastConnectionTimeEpochSeconds float64 `json:"lastConnectionTimeEpochSeconds"`
}

// Store implements link.Preferences on a bolt database. A writable store
// keeps the database open and so holds bolt's exclusive lock until Close.
// Read-only stores open the file for each read and fail while a writer has
// it open.
type Store struct {
	path string
	db   *bolt.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{path: path, db: db}, nil
}

// OpenReadOnly opens an existing store for reading.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	if s.db == nil {
		return errReadOnly
	}
	return s.db.Update(fn)
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	if s.db != nil {
		return s.db.View(fn)
	}
	db, err := bolt.Open(s.path, 0644, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer db.Close()
	return db.View(fn)
}

func (s *Store) LoadSettings() (link.Settings, error) {
	var r settingsRecord
	found, err := s.get(settingsKey, &r)
	if err != nil || !found {
		return link.Settings{}, err
	}
	return link.Settings{
		Target: link.Target{
			DeviceID:    r.TargetDeviceID,
			AutoConnect: r.AutoConnectEnabled,
		},
		AllowBackgroundReconnection: r.AllowBackgroundReconnection,
	}, nil
}

func (s *Store) SaveSettings(settings link.Settings) error {
	return s.put(settingsKey, settingsRecord{
		TargetDeviceID:              settings.Target.DeviceID,
		AutoConnectEnabled:          settings.Target.AutoConnect,
		AllowBackgroundReconnection: settings.AllowBackgroundReconnection,
	})
}

// LoadStatus returns the last saved status mirror.
func (s *Store) LoadStatus() (link.StatusMirror, error) {
	var r statusRecord
	if _, err := s.get(statusKey, &r); err != nil {
		return link.StatusMirror{}, err
	}
	return link.StatusMirror{
		IsConnected:         r.IsConnected,
		ConnectedDeviceName: r.ConnectedDeviceName,
		LastConnectionTime:  r.LastConnectionTimeEpochSeconds,
	}, nil
}

func (s *Store) SaveStatus(m link.StatusMirror) error {
	return s.put(statusKey, statusRecord{
		IsConnected:                    m.IsConnected,
		ConnectedDeviceName:            m.ConnectedDeviceName,
		LastConnectionTimeEpochSeconds: m.LastConnectionTime,
	})
}

func (s *Store) put(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, crc8.Checksum(data, crcTable))
	return s.update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// get decodes the record at key into v. It reports false when there is no
// record.
func (s *Store) get(key []byte, v interface{}) (bool, error) {
	var data []byte
	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		if raw := b.Get(key); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil || data == nil {
		return false, err
	}
	if len(data) < 2 {
		return false, fmt.Errorf("%s record too short: %w", key, ErrBadCRC)
	}
	body, crc := data[:len(data)-1], data[len(data)-1]
	if crc8.Checksum(body, crcTable) != crc {
		return false, fmt.Errorf("%s record: %w", key, ErrBadCRC)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("failed to decode %s record: %w", key, err)
	}
	return true, nil
}
