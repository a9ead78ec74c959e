package rbac

type Level string
type Action string

const (
	LevelRead    Level = "read"
	LevelComment Level = "comment"
	LevelEdit    Level = "edit"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
)

func Can(level Level, action Action) bool {
	switch level {
	case LevelEdit:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case LevelComment:
		return action == ActionRead || action == ActionComment
	case LevelRead:
		return action == ActionRead
	default:
		return false
	}
}

// Valid reports whether raw names one of the three permission levels.
func Valid(raw string) bool {
	switch Level(raw) {
	case LevelRead, LevelComment, LevelEdit:
		return true
	default:
		return false
	}
}

func Normalize(level string) Level {
	if Valid(level) {
		return Level(level)
	}
	return LevelRead
}
