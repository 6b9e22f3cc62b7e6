package postgres

const (
	upsertVault = `
		INSERT INTO ledger.vaults (vault, owner, state, liability_shares, redemption_shares,
			cumulative_fees, settled_fees, total_value, locked, balance, deposits_paused, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (vault) DO UPDATE SET
			owner = excluded.owner,
			state = excluded.state,
			liability_shares = excluded.liability_shares,
			redemption_shares = excluded.redemption_shares,
			cumulative_fees = excluded.cumulative_fees,
			settled_fees = excluded.settled_fees,
			total_value = excluded.total_value,
			locked = excluded.locked,
			balance = excluded.balance,
			deposits_paused = excluded.deposits_paused,
			updated_at = excluded.updated_at`

	vaultColumns = `
		vault, owner, state, liability_shares, redemption_shares, cumulative_fees,
		settled_fees, total_value, locked, balance, deposits_paused, updated_at`

	selectVault = `SELECT ` + vaultColumns + ` FROM ledger.vaults WHERE vault = $1`

	selectVaults = `SELECT ` + vaultColumns + ` FROM ledger.vaults ORDER BY vault`

	insertEvent = `
		INSERT INTO ledger.events (seq, id, recorded_at, kind, vault, body)
		VALUES ($1, $2, $3, $4, $5, $6)`

	selectEvents = `
		SELECT id::text, seq, recorded_at, kind, vault, body
		FROM ledger.events
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2`

	selectLastEventSeq = `SELECT COALESCE(MAX(seq), 0) FROM ledger.events`

	insertReport = `
		INSERT INTO ledger.pending_reports (hash, vault, total_value, in_out_delta, locked,
			cumulative_fees, reported_at, submitter)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	selectPendingReports = `
		SELECT id, hash, vault, total_value, in_out_delta, locked, cumulative_fees,
			reported_at, submitter, status, error
		FROM ledger.pending_reports
		WHERE status = 'pending'
		ORDER BY id
		LIMIT $1`

	completeReport = `
		UPDATE ledger.pending_reports
		SET status = $2, error = $3, processed_at = now()
		WHERE id = $1 AND status = 'pending'`
)
