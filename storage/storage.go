// Package storage persists the wallet state that must survive a restart:
// accounts, known networks with the active-network pointer, and per-origin
// authorization grants. Session and approval state stay volatile.
package storage

import (
	"encoding/json"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/r4-ndm/vaughan-gateway/netmgr"
	"github.com/r4-ndm/vaughan-gateway/wallet"
)

var log = logging.Logger("storage")

var (
	accountsBucket = []byte("accounts")
	networksBucket = []byte("networks")
	grantsBucket   = []byte("grants")

	accountsKey = []byte("list")
	activeKey   = []byte("active")
)

// Store is the bbolt-backed persistence layer. One Store serves the
// account store, the network registry and the gateway's grant cache.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open datastore %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{accountsBucket, networksBucket, grantsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}
	log.Infof("datastore opened at %s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveAccounts(accounts []*wallet.Account, activeID string) error {
	data, err := json.Marshal(accounts)
	if err != nil {
		return errors.Wrap(err, "encode accounts")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if err := b.Put(accountsKey, data); err != nil {
			return err
		}
		return b.Put(activeKey, []byte(activeID))
	})
}

func (s *Store) LoadAccounts() ([]*wallet.Account, string, error) {
	var accounts []*wallet.Account
	var activeID string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if data := b.Get(accountsKey); data != nil {
			if err := json.Unmarshal(data, &accounts); err != nil {
				return errors.Wrap(err, "decode accounts")
			}
		}
		activeID = string(b.Get(activeKey))
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return accounts, activeID, nil
}

func (s *Store) SaveNetworks(networks []*netmgr.NetworkConfig, activeID string) error {
	data, err := json.Marshal(networks)
	if err != nil {
		return errors.Wrap(err, "encode networks")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(networksBucket)
		if err := b.Put(accountsKey, data); err != nil {
			return err
		}
		return b.Put(activeKey, []byte(activeID))
	})
}

func (s *Store) LoadNetworks() ([]*netmgr.NetworkConfig, string, error) {
	var networks []*netmgr.NetworkConfig
	var activeID string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(networksBucket)
		if data := b.Get(accountsKey); data != nil {
			if err := json.Unmarshal(data, &networks); err != nil {
				return errors.Wrap(err, "decode networks")
			}
		}
		activeID = string(b.Get(activeKey))
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return networks, activeID, nil
}

func (s *Store) SaveGrant(origin string, accounts []string) error {
	data, err := json.Marshal(accounts)
	if err != nil {
		return errors.Wrap(err, "encode grant")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(grantsBucket).Put([]byte(origin), data)
	})
}

func (s *Store) LoadGrants() (map[string][]string, error) {
	grants := make(map[string][]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(grantsBucket).ForEach(func(k, v []byte) error {
			var accounts []string
			if err := json.Unmarshal(v, &accounts); err != nil {
				return errors.Wrapf(err, "decode grant for %s", k)
			}
			grants[string(k)] = accounts
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *Store) DeleteGrant(origin string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(grantsBucket).Delete([]byte(origin))
	})
}
