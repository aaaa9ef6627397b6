package pipeline

import (
	"fmt"

	"github.com/arcmill/arcmill/internal/models"
)

// Archives returns the loaded archive records in load order.
func (s *Service) Archives() []*models.Archive {
	s.archiveMu.RLock()
	defer s.archiveMu.RUnlock()

	out := make([]*models.Archive, len(s.archives))
	copy(out, s.archives)
	return out
}

// Archive looks up a loaded archive by id.
func (s *Service) Archive(id string) (*models.Archive, bool) {
	s.archiveMu.RLock()
	defer s.archiveMu.RUnlock()

	for _, a := range s.archives {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// Remove drops archives by id, snapshotting the list before and after
// so the removal can be undone. Returns how many were removed.
func (s *Service) Remove(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()

	removed := 0
	for _, a := range s.archives {
		if drop[a.ID] {
			removed++
		}
	}
	if removed == 0 {
		return 0
	}

	s.snapshotLocked(fmt.Sprintf("before removing %d archive(s)", removed))

	kept := make([]*models.Archive, 0, len(s.archives)-removed)
	for _, a := range s.archives {
		if !drop[a.ID] {
			kept = append(kept, a)
		}
	}
	s.archives = kept

	s.snapshotLocked(fmt.Sprintf("removed %d archive(s)", removed))
	s.logger.WithField("count", removed).Info("Removed archives")
	return removed
}

// Undo restores the archive list to the previous snapshot. Returns the
// description of the restored snapshot.
func (s *Service) Undo() (string, bool) {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()

	entry, ok := s.history.Undo()
	if !ok {
		return "", false
	}
	s.archives = append([]*models.Archive(nil), entry.State...)
	s.logger.WithField("snapshot", entry.Description).Info("Restored archive list")
	return entry.Description, true
}

// Redo reapplies the snapshot undone last.
func (s *Service) Redo() (string, bool) {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()

	entry, ok := s.history.Redo()
	if !ok {
		return "", false
	}
	s.archives = append([]*models.Archive(nil), entry.State...)
	s.logger.WithField("snapshot", entry.Description).Info("Restored archive list")
	return entry.Description, true
}

func (s *Service) addArchive(a *models.Archive) {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()
	s.archives = append(s.archives, a)
}

// snapshotHistory records the current archive list under desc.
func (s *Service) snapshotHistory(desc string) {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()
	s.snapshotLocked(desc)
}

func (s *Service) snapshotLocked(desc string) {
	snap := make([]*models.Archive, len(s.archives))
	copy(snap, s.archives)
	s.history.Push(snap, desc)
}
