package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const packageName = "keystore"

// fileStore is the only writer of the keystore file. Writes replace the file
// atomically so a crash never leaves a partial record behind.
type fileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) repository.KeystoreRepository {
	return &fileStore{path: path}
}

func (s *fileStore) Load() (*model.Keystore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ks, err := s.read()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return ks, nil
}

func (s *fileStore) Save(ks *model.Keystore) error {
	funcName := util.FuncName()

	if err := ks.Validate(); err != nil {
		return util.WrapErrorForLog(packageName, funcName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(ks); err != nil {
		return util.WrapErrorForLog(packageName, funcName, err)
	}
	return nil
}

// UpdateSmartAccount rewrites the smart account field and keeps everything else
// exactly as stored.
func (s *fileStore) UpdateSmartAccount(account common.Address) error {
	funcName := util.FuncName()

	s.mu.Lock()
	defer s.mu.Unlock()

	ks, err := s.read()
	if err != nil {
		return util.WrapErrorForLog(packageName, funcName, err)
	}
	ks.SmartAccount = util.Pointer(account.Hex())
	if err := s.write(ks); err != nil {
		return util.WrapErrorForLog(packageName, funcName, err)
	}
	return nil
}

func (s *fileStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("remove keystore: %w", err))
	}
	return nil
}

func (s *fileStore) read() (*model.Keystore, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.ErrNoWallet
	}
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	return model.ParseKeystore(data)
}

func (s *fileStore) write(ks *model.Keystore) error {
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".keystore-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp keystore: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod keystore: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write keystore: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync keystore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close keystore: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace keystore: %w", err)
	}
	return nil
}
