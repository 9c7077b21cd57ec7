package gormstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var channelName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// notifyStatements publish message changes on a LISTEN/NOTIFY channel.
// Inserts notify per row; reads notify once per (job, receiver, sender) that
// moved from unread to read within one UPDATE statement.
const notifyStatements = `
CREATE OR REPLACE FUNCTION jobchat_notify_message_insert() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('%[1]s', json_build_object(
		'op', 'insert',
		'id', NEW.id,
		'jobId', NEW.job_id,
		'senderId', NEW.sender_id,
		'receiverId', NEW.receiver_id
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;
---
DROP TRIGGER IF EXISTS jobchat_messages_insert ON messages;
---
CREATE TRIGGER jobchat_messages_insert
	AFTER INSERT ON messages
	FOR EACH ROW EXECUTE FUNCTION jobchat_notify_message_insert();
---
CREATE OR REPLACE FUNCTION jobchat_notify_messages_read() RETURNS trigger AS $$
DECLARE
	r record;
BEGIN
	FOR r IN
		SELECT DISTINCT n.job_id, n.receiver_id, n.sender_id
		FROM new_rows n
		JOIN old_rows o ON o.id = n.id
		WHERE n.is_read AND NOT o.is_read
	LOOP
		PERFORM pg_notify('%[1]s', json_build_object(
			'op', 'read',
			'jobId', r.job_id,
			'readBy', r.receiver_id,
			'senderId', r.sender_id
		)::text);
	END LOOP;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;
---
DROP TRIGGER IF EXISTS jobchat_messages_read ON messages;
---
CREATE TRIGGER jobchat_messages_read
	AFTER UPDATE ON messages
	REFERENCING OLD TABLE AS old_rows NEW TABLE AS new_rows
	FOR EACH STATEMENT EXECUTE FUNCTION jobchat_notify_messages_read();
`

// NotifyStatements renders the trigger DDL for the given channel.
func NotifyStatements(channel string) ([]string, error) {
	if !channelName.MatchString(channel) {
		return nil, fmt.Errorf("invalid notify channel %q", channel)
	}

	var out []string
	for _, stmt := range strings.Split(fmt.Sprintf(notifyStatements, channel), "\n---\n") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out, nil
}

// InstallNotifyTrigger installs the message change triggers. PostgreSQL only.
func (s *GormStore) InstallNotifyTrigger(ctx context.Context, channel string) error {
	if name := s.db.Dialector.Name(); name != "postgres" {
		return fmt.Errorf("notify triggers require postgres, got %s", name)
	}

	stmts, err := NotifyStatements(channel)
	if err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("install notify trigger: %w", err)
		}
	}
	return nil
}
