package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS consult_conversations (
	farmer_id  TEXT        NOT NULL,
	doctor_id  TEXT        NOT NULL,
	last_seq   BIGINT      NOT NULL,
	last_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (farmer_id, doctor_id)
);

CREATE INDEX IF NOT EXISTS consult_conversations_doctor_idx
	ON consult_conversations (doctor_id, farmer_id);

CREATE TABLE IF NOT EXISTS consult_messages (
	id         UUID        PRIMARY KEY,
	farmer_id  TEXT        NOT NULL,
	doctor_id  TEXT        NOT NULL,
	seq        BIGINT      NOT NULL,
	sender     TEXT        NOT NULL CHECK (sender IN ('farmer', 'doctor')),
	body       TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	seen       BOOLEAN     NOT NULL DEFAULT FALSE,
	UNIQUE (farmer_id, doctor_id, seq),
	FOREIGN KEY (farmer_id, doctor_id) REFERENCES consult_conversations (farmer_id, doctor_id)
);
`

// Шапка беседы: seq и created_at выдаются под блокировкой строки,
// параллельные Append одной беседы ждут друг друга.
const qBumpConversation = `
	INSERT INTO consult_conversations (farmer_id, doctor_id, last_seq, last_at)
	VALUES ($1, $2, 1, $3)
	ON CONFLICT (farmer_id, doctor_id) DO UPDATE
	SET last_seq = consult_conversations.last_seq + 1,
	    last_at  = GREATEST(consult_conversations.last_at, EXCLUDED.last_at)
	RETURNING last_seq, last_at
`

const qInsertMessage = `
	INSERT INTO consult_messages (id, farmer_id, doctor_id, seq, sender, body, created_at, seen)
	VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
`

const messageColumns = `id::text, seq, farmer_id, doctor_id, sender, body, created_at, seen`

const qHistory = `
	SELECT ` + messageColumns + `
	FROM consult_messages
	WHERE farmer_id = $1 AND doctor_id = $2
	ORDER BY seq ASC
`

const qMessageForUpdate = `
	SELECT ` + messageColumns + `
	FROM consult_messages
	WHERE id = $1 AND farmer_id = $2 AND doctor_id = $3
	FOR UPDATE
`

const qSetSeen = `
	UPDATE consult_messages SET seen = TRUE WHERE id = $1
`

const qMarkAllSeen = `
	UPDATE consult_messages
	SET seen = TRUE
	WHERE farmer_id = $1 AND doctor_id = $2 AND sender <> $3 AND seen = FALSE
	RETURNING ` + messageColumns

const qFarmersForDoctor = `
	SELECT farmer_id FROM consult_conversations WHERE doctor_id = $1 ORDER BY farmer_id
`

const qDoctorsForFarmer = `
	SELECT doctor_id FROM consult_conversations WHERE farmer_id = $1 ORDER BY doctor_id
`
