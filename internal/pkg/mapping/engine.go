package mapping

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/padgrid/midicore/internal/pkg/logger"
	"github.com/padgrid/midicore/internal/pkg/midi"
	"github.com/padgrid/midicore/internal/pkg/midierr"
	"go.uber.org/zap"
)

// Applier receives the evaluated parameter value for a matched target.
type Applier func(target TargetType, targetID string, value float64)

// Engine holds every known profile, keeps exactly one of them active for
// live routing and evaluates incoming messages against it.
type Engine struct {
	repo    Repository
	applier Applier

	mutex    sync.RWMutex
	profiles map[string]Profile
	activeID string
}

func NewEngine(repo Repository, applier Applier) *Engine {
	return &Engine{
		repo:     repo,
		applier:  applier,
		profiles: make(map[string]Profile),
	}
}

// Load reads everything from storage and materializes the built-in
// templates that are absent. At most one profile comes back active, extra
// active flags from hand-edited storage are cleared.
func (e *Engine) Load() error {
	profiles, err := e.repo.LoadAll()
	if err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.profiles = make(map[string]Profile, len(profiles))
	e.activeID = ""
	for _, p := range profiles {
		if e.activeID != "" && p.Active {
			p.Active = false
		}
		if p.Active {
			e.activeID = p.ID
		}
		e.profiles[p.ID] = p
	}

	for _, tpl := range builtinTemplates() {
		if _, ok := e.profiles[tpl.ID]; ok {
			continue
		}
		err = e.repo.Save(tpl)
		if err != nil {
			return fmt.Errorf("cannot materialize template %s: %w", tpl.ID, err)
		}
		e.profiles[tpl.ID] = tpl
		log.Info(fmt.Sprintf("materialized built-in profile: %s", tpl.Name), logger.Debug)
	}
	return nil
}

// Reload refreshes a single profile from storage, used by the file watcher.
func (e *Engine) Reload(id string) {
	p, err := e.repo.Get(id)
	if err != nil {
		log.Info(fmt.Sprintf("cannot reload profile %s: %v", id, err), logger.Warning)
		return
	}
	if err = p.Validate(); err != nil {
		log.Info(fmt.Sprintf("ignoring invalid profile on disk: %v", err), logger.Warning)
		return
	}

	e.mutex.Lock()
	if p.Active && e.activeID != "" && e.activeID != p.ID {
		// the single-active invariant wins over hand-edited files
		p.Active = false
	}
	e.profiles[p.ID] = p
	e.mutex.Unlock()
}

// Profiles returns every profile ordered by name.
func (e *Engine) Profiles() []Profile {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	var out = make([]Profile, 0, len(e.profiles))
	for _, p := range e.profiles {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) Get(id string) (Profile, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	p, ok := e.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p.clone(), nil
}

// CreateProfile validates and persists a new profile. The id is assigned
// here, callers only name it.
func (e *Engine) CreateProfile(name, deviceID string, mappings []Mapping) (Profile, error) {
	p := Profile{
		ID:       uuid.NewString(),
		Name:     name,
		DeviceID: deviceID,
		Mappings: mappings,
	}
	err := p.Validate()
	if err != nil {
		return Profile{}, err
	}
	err = e.repo.Save(p)
	if err != nil {
		return Profile{}, err
	}

	e.mutex.Lock()
	e.profiles[p.ID] = p
	e.mutex.Unlock()

	log.Info("profile created", zap.String("profile", p.Name), logger.Info)
	return p, nil
}

// UpdateProfile replaces a stored profile. Built-in templates are
// read-only.
func (e *Engine) UpdateProfile(p Profile) error {
	err := p.Validate()
	if err != nil {
		return err
	}

	e.mutex.Lock()
	old, ok := e.profiles[p.ID]
	if !ok {
		e.mutex.Unlock()
		return ErrNotFound
	}
	if old.BuiltIn {
		e.mutex.Unlock()
		return fmt.Errorf("profile %s is a built-in template", p.ID)
	}
	p.BuiltIn = false
	p.Active = old.Active
	e.profiles[p.ID] = p
	e.mutex.Unlock()

	return e.repo.Save(p)
}

func (e *Engine) DeleteProfile(id string) error {
	e.mutex.Lock()
	p, ok := e.profiles[id]
	if !ok {
		e.mutex.Unlock()
		return ErrNotFound
	}
	if p.BuiltIn {
		e.mutex.Unlock()
		return fmt.Errorf("profile %s is a built-in template", id)
	}
	delete(e.profiles, id)
	if e.activeID == id {
		e.activeID = ""
	}
	e.mutex.Unlock()

	return e.repo.Delete(id)
}

// DuplicateProfile copies a profile (built-ins included, the copy is
// editable) under a new name and id.
func (e *Engine) DuplicateProfile(id, newName string) (Profile, error) {
	e.mutex.RLock()
	p, ok := e.profiles[id]
	e.mutex.RUnlock()
	if !ok {
		return Profile{}, ErrNotFound
	}

	dup := p.clone()
	dup.ID = uuid.NewString()
	dup.Name = newName
	dup.Active = false
	dup.BuiltIn = false
	for i := range dup.Mappings {
		dup.Mappings[i].ID = uuid.NewString()
	}

	err := dup.Validate()
	if err != nil {
		return Profile{}, err
	}
	err = e.repo.Save(dup)
	if err != nil {
		return Profile{}, err
	}

	e.mutex.Lock()
	e.profiles[dup.ID] = dup
	e.mutex.Unlock()
	return dup, nil
}

func (e *Engine) RenameProfile(id, newName string) error {
	if newName == "" {
		return fmt.Errorf("profile name must not be blank")
	}

	e.mutex.Lock()
	p, ok := e.profiles[id]
	if !ok {
		e.mutex.Unlock()
		return ErrNotFound
	}
	if p.BuiltIn {
		e.mutex.Unlock()
		return fmt.Errorf("profile %s is a built-in template", id)
	}
	p.Name = newName
	e.profiles[id] = p
	e.mutex.Unlock()

	return e.repo.Save(p)
}

// AddMapping appends one rule to a profile, typically a learn result.
func (e *Engine) AddMapping(profileID string, m Mapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := m.Validate()
	if err != nil {
		return err
	}

	e.mutex.Lock()
	p, ok := e.profiles[profileID]
	if !ok {
		e.mutex.Unlock()
		return ErrNotFound
	}
	if p.BuiltIn {
		e.mutex.Unlock()
		return fmt.Errorf("profile %s is a built-in template", profileID)
	}
	p = p.clone()
	p.Mappings = append(p.Mappings, m)
	e.profiles[profileID] = p
	e.mutex.Unlock()

	return e.repo.Save(p)
}

// Export serializes one profile for sharing.
func (e *Engine) Export(id string) ([]byte, error) {
	p, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(p, "", "  ")
}

// Import brings an exported profile in under a fresh id, never clobbering
// an existing one.
func (e *Engine) Import(data []byte) (Profile, error) {
	var p Profile
	err := json.Unmarshal(data, &p)
	if err != nil {
		return Profile{}, fmt.Errorf("cannot decode profile: %w", err)
	}
	p.ID = uuid.NewString()
	p.Active = false
	p.BuiltIn = false

	err = p.Validate()
	if err != nil {
		return Profile{}, err
	}
	err = e.repo.Save(p)
	if err != nil {
		return Profile{}, err
	}

	e.mutex.Lock()
	e.profiles[p.ID] = p
	e.mutex.Unlock()
	return p, nil
}

// SetActive activates one profile for live routing and deactivates every
// other, keeping the single-active invariant in storage too.
func (e *Engine) SetActive(id string) error {
	e.mutex.Lock()
	target, ok := e.profiles[id]
	if !ok {
		e.mutex.Unlock()
		return ErrNotFound
	}

	var dirty []Profile
	for pid, p := range e.profiles {
		if pid == id {
			continue
		}
		if p.Active {
			p.Active = false
			e.profiles[pid] = p
			dirty = append(dirty, p)
		}
	}
	target.Active = true
	e.profiles[id] = target
	e.activeID = id
	e.mutex.Unlock()

	for _, p := range dirty {
		err := e.repo.Save(p)
		if err != nil {
			return err
		}
	}
	err := e.repo.Save(target)
	if err != nil {
		return err
	}

	log.Info("profile activated", zap.String("profile", target.Name), logger.Info)
	return nil
}

// Active returns the live-routing profile, if any.
func (e *Engine) Active() (Profile, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if e.activeID == "" {
		return Profile{}, false
	}
	p, ok := e.profiles[e.activeID]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// Apply evaluates a message against the active profile. The first matching
// rule wins, its curve maps the raw value into [min, max] and the result
// goes to the applier. No match routes nowhere, that is not an error.
func (e *Engine) Apply(msg midi.Message) (float64, bool) {
	e.mutex.RLock()
	var active Profile
	var ok bool
	if e.activeID != "" {
		active, ok = e.profiles[e.activeID]
	}
	applier := e.applier
	e.mutex.RUnlock()

	if !ok {
		return 0, false
	}

	for _, m := range active.Mappings {
		if !m.Matches(msg) {
			continue
		}
		rawMax := 127
		if msg.Type == midi.PitchBend {
			rawMax = 1<<14 - 1
		}
		value := m.Curve.Apply(msg.RawValue(), rawMax, m.Min, m.Max)
		if applier != nil {
			applier(m.Target, m.TargetID, value)
		}
		return value, true
	}
	return 0, false
}

// CheckConflict reports a MappingConflict when a candidate rule collides
// with an existing one in the same profile on (type, channel, controller).
func (e *Engine) CheckConflict(profileID string, candidate Mapping) error {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	p, ok := e.profiles[profileID]
	if !ok {
		return ErrNotFound
	}
	for _, m := range p.Mappings {
		if m.ID == candidate.ID {
			continue
		}
		if m.MessageType == candidate.MessageType && m.Channel == candidate.Channel && m.Controller == candidate.Controller {
			return midierr.Newf(midierr.MappingConflict,
				"%s/%d/%d already mapped to %s/%s", m.MessageType, m.Channel, m.Controller, m.Target, m.TargetID)
		}
	}
	return nil
}
