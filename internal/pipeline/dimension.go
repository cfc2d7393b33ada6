package pipeline

import (
	"reflect"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"gorm.io/datatypes"
)

// DimensionManager maintains the slowly-changing domain dimension.
// Resolution is serialized per natural key, and the close-and-create
// sequence is retried a bounded number of times when a concurrent writer
// wins the race (the store reports ErrDimensionConflict).
type DimensionManager struct {
	store DimensionStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewDimensionManager(store DimensionStore) *DimensionManager {
	return &DimensionManager{
		store: store,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

func (m *DimensionManager) keyLock(naturalKey string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[naturalKey]
	if !ok {
		l = &sync.Mutex{}
		m.locks[naturalKey] = l
	}
	return l
}

// ResolveCurrent returns the surrogate key of the current version for
// naturalKey, creating one when the key is new. When the current version's
// attributes differ from attrs, the Type-2 rule applies: the current
// version is closed and a new one opened; history is never overwritten.
func (m *DimensionManager) ResolveCurrent(naturalKey string, attrs datatypes.JSONMap) (uint64, error) {
	l := m.keyLock(naturalKey)
	l.Lock()
	defer l.Unlock()

	var key uint64
	err := retry.Do(
		func() error {
			cur, err := m.store.Current(naturalKey)
			if err != nil {
				return err
			}
			now := m.now().UTC()

			if cur == nil {
				v := &DomainVersion{
					NaturalKey: naturalKey,
					Attributes: attrs,
					ValidFrom:  now,
					IsCurrent:  true,
				}
				if err := m.store.Create(v); err != nil {
					return err
				}
				dimensionVersionsCreated.Inc()
				key = v.SurrogateKey
				return nil
			}

			if attrsEqual(cur.Attributes, attrs) {
				key = cur.SurrogateKey
				return nil
			}

			next := &DomainVersion{
				NaturalKey: naturalKey,
				Attributes: attrs,
				ValidFrom:  now,
				IsCurrent:  true,
			}
			if err := m.store.CloseAndCreate(cur.SurrogateKey, now, next); err != nil {
				return err
			}
			dimensionVersionsCreated.Inc()
			key = next.SurrogateKey
			return nil
		},
		retry.Attempts(4),
		retry.Delay(10*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	return key, err
}

// HistoryOf returns the full version sequence for naturalKey, ordered by
// ValidFrom. Adjacent versions have non-overlapping [ValidFrom, ValidTo)
// ranges because a close and the successor's open share the same instant.
func (m *DimensionManager) HistoryOf(naturalKey string) ([]DomainVersion, error) {
	return m.store.History(naturalKey)
}

// attrsEqual compares attribute maps, treating nil and empty as the same.
func attrsEqual(a, b datatypes.JSONMap) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(map[string]interface{}(a), map[string]interface{}(b))
}
