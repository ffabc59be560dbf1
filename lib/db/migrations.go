package db

// schemaVersion is the current on-disk schema version. Bump it and add
// a migration step whenever a released version starts writing a record
// shape an older reader can't make sense of.
const schemaVersion = 1

const schemaVersionKey = "db_version"

// migrationStep is one forward-only transformation from its declared
// "from" version to from+1.
type migrationStep struct {
	from uint64
	run  func(s *Store) error
}

// migrations lists every step in order. Add new steps at the end; never
// renumber or remove a past one, even once no installation still needs
// it, so a database frozen at any past version can still walk forward.
var migrations = []migrationStep{
	// from 0 to 1: nothing to transform yet -- version 1 is the schema
	// this package was born with. Future steps append here.
}

// migrate brings s's on-disk schema up to schemaVersion, running every
// applicable step in order and persisting the version after each one so
// a crash mid-migration resumes rather than re-running a completed step.
func migrate(s *Store) error {
	current, found, err := s.getUint64(schemaVersionKey)
	if err != nil {
		return err
	}
	if !found {
		current = schemaVersion
		return s.putUint64(schemaVersionKey, current)
	}
	if current > schemaVersion {
		return errCannotDowngradeDB(current, schemaVersion)
	}

	for _, step := range migrations {
		if current != step.from {
			continue
		}
		if err := step.run(s); err != nil {
			return err
		}
		current = step.from + 1
		if err := s.putUint64(schemaVersionKey, current); err != nil {
			return err
		}
	}
	return nil
}
