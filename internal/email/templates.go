package email

import (
	"path/filepath"
	"time"
)

// BackupSubject returns the subject of the export backup email
func BackupSubject(now time.Time) string {
	return "📁 Mail Merge Backup CSV - " + now.Format("2006-01-02 15:04")
}

// BackupText is the body of the export backup email
const BackupText = "Attached is the backup CSV for your mail merge run."

// BackupMessage builds the email that carries the export CSV back to the
// account owner.
func BackupMessage(owner, exportPath string, data []byte, now time.Time) *Message {
	return &Message{
		FromAddress: owner,
		To:          owner,
		Subject:     BackupSubject(now),
		TextBody:    BackupText,
		Attachments: []Attachment{{
			Filename:    filepath.Base(exportPath),
			ContentType: "text/csv",
			Data:        data,
		}},
	}
}
