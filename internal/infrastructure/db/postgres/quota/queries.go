package quota

const (
	EnsureCounter = `
		INSERT INTO quota_counters (owner_id, content_type, period, current, window_start)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (owner_id, content_type, period) DO NOTHING
	`
	// IncrementCounter rolls a stale monthly window over and increments in one
	// statement; the row lock serializes concurrent reservations.
	IncrementCounter = `
		UPDATE quota_counters
		SET current      = CASE WHEN window_start < $4 THEN 1 ELSE current + 1 END,
		    window_start = GREATEST(window_start, $4),
		    updated_at   = now()
		WHERE owner_id = $1 AND content_type = $2 AND period = $3
		  AND ($5::bigint < 0 OR (CASE WHEN window_start < $4 THEN 0 ELSE current END) < $5::bigint)
		RETURNING current
	`
	SelectEffectiveCounter = `
		SELECT CASE WHEN window_start < $4 THEN 0 ELSE current END
		FROM quota_counters
		WHERE owner_id = $1 AND content_type = $2 AND period = $3
	`
	InsertReservation = `
		INSERT INTO quota_reservations (owner_id, content_type, period, window_start, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id, owner_id, content_type, period, window_start, status, created_at
	`
	ReleaseReservation = `
		UPDATE quota_reservations
		SET status = 'released', updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, owner_id, content_type, period, window_start, status, created_at
	`
	// DecrementWindow only touches the counter while the reservation's window is current.
	DecrementWindow = `
		UPDATE quota_counters
		SET current = GREATEST(current - 1, 0), updated_at = now()
		WHERE owner_id = $1 AND content_type = $2 AND period = $3 AND window_start = $4
	`
	RefundReservation = `
		UPDATE quota_reservations
		SET status = 'refunded', updated_at = now()
		WHERE id = (
			SELECT id FROM quota_reservations
			WHERE asset_id = $1 AND status = 'committed'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE
		)
		RETURNING id, owner_id, content_type, period, window_start, status, created_at
	`
	DecrementCounter = `
		UPDATE quota_counters
		SET current = GREATEST(current - 1, 0), updated_at = now()
		WHERE owner_id = $1 AND content_type = $2 AND period = $3
	`
	SelectCounter = `
		SELECT owner_id, content_type, period, current, window_start
		FROM quota_counters
		WHERE owner_id = $1 AND content_type = $2 AND period = $3
	`
	SelectStaleReservations = `
		SELECT id, owner_id, content_type, period, window_start, status, created_at
		FROM quota_reservations
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
)
