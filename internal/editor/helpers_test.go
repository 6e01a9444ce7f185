package editor

import "github.com/fsnotify/fsnotify"

func fsnotifyEvent(name, op string) fsnotify.Event {
	ev := fsnotify.Event{Name: name}
	switch op {
	case "write":
		ev.Op = fsnotify.Write
	case "create":
		ev.Op = fsnotify.Create
	case "chmod":
		ev.Op = fsnotify.Chmod
	}
	return ev
}
