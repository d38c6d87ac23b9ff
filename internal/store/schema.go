package store

// createSchemaStatements is executed once at startup, in order, against
// a fresh connection. Every statement is idempotent so restarts against
// an already-initialized database are safe.
var createSchemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS timescaledb`,

	`CREATE TABLE IF NOT EXISTS devices (
		mac              MACADDR PRIMARY KEY,
		oui_vendor       TEXT NOT NULL DEFAULT '',
		oui_prefix       TEXT NOT NULL DEFAULT '',
		device_type      TEXT NOT NULL DEFAULT 'unknown',
		name             TEXT,
		notes            TEXT,
		first_seen       TIMESTAMPTZ NOT NULL,
		last_seen        TIMESTAMPTZ NOT NULL,
		packets_sent     BIGINT NOT NULL DEFAULT 0,
		packets_received BIGINT NOT NULL DEFAULT 0,
		bytes_sent       BIGINT NOT NULL DEFAULT 0,
		bytes_received   BIGINT NOT NULL DEFAULT 0,
		is_gateway       BOOLEAN NOT NULL DEFAULT FALSE,
		is_flagged       BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS device_ips (
		id          BIGSERIAL PRIMARY KEY,
		device_mac  MACADDR NOT NULL,
		ip          INET NOT NULL,
		vlan_id     INTEGER,
		first_seen  TIMESTAMPTZ NOT NULL,
		last_seen   TIMESTAMPTZ NOT NULL,
		packets     BIGINT NOT NULL DEFAULT 0,
		bytes       BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS device_ips_key ON device_ips (device_mac, ip, (COALESCE(vlan_id, -1)))`,

	`CREATE TABLE IF NOT EXISTS vlans (
		vlan_id       INTEGER NOT NULL,
		outer_vlan_id INTEGER,
		name          TEXT,
		description   TEXT,
		first_seen    TIMESTAMPTZ NOT NULL,
		last_seen     TIMESTAMPTZ NOT NULL,
		packets       BIGINT NOT NULL DEFAULT 0,
		bytes         BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS vlans_key ON vlans (vlan_id, (COALESCE(outer_vlan_id, -1)))`,

	`CREATE TABLE IF NOT EXISTS flows (
		id              BIGSERIAL PRIMARY KEY,
		src_mac         MACADDR NOT NULL,
		dst_mac         MACADDR NOT NULL,
		src_ip          INET,
		dst_ip          INET,
		src_port        INTEGER NOT NULL DEFAULT 0,
		dst_port        INTEGER NOT NULL DEFAULT 0,
		vlan_id         INTEGER NOT NULL DEFAULT 0,
		outer_vlan_id   INTEGER,
		ip_protocol     INTEGER NOT NULL DEFAULT 0,
		first_seen      TIMESTAMPTZ NOT NULL,
		last_seen       TIMESTAMPTZ NOT NULL,
		packet_count    BIGINT NOT NULL DEFAULT 0,
		byte_count      BIGINT NOT NULL DEFAULT 0,
		tcp_flags_seen  SMALLINT NOT NULL DEFAULT 0,
		src_device_mac  MACADDR,
		dst_device_mac  MACADDR,
		UNIQUE NULLS NOT DISTINCT (src_mac, dst_mac, src_ip, dst_ip, src_port, dst_port, vlan_id, ip_protocol)
	)`,

	`CREATE TABLE IF NOT EXISTS protocols (
		ethertype    INTEGER NOT NULL,
		ip_protocol  INTEGER,
		first_seen   TIMESTAMPTZ NOT NULL,
		last_seen    TIMESTAMPTZ NOT NULL,
		packet_count BIGINT NOT NULL DEFAULT 0,
		byte_count   BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS protocols_key ON protocols (ethertype, (COALESCE(ip_protocol, -1)))`,

	`CREATE TABLE IF NOT EXISTS traffic_metrics (
		bucket        TIMESTAMPTZ NOT NULL,
		entity_id     TEXT NOT NULL,
		metric_type   TEXT NOT NULL,
		packet_count  BIGINT NOT NULL DEFAULT 0,
		byte_count    BIGINT NOT NULL DEFAULT 0,
		min_pkt_size  INTEGER NOT NULL DEFAULT 0,
		max_pkt_size  INTEGER NOT NULL DEFAULT 0,
		sum_pkt_size  BIGINT NOT NULL DEFAULT 0,
		pkt_count     BIGINT NOT NULL DEFAULT 0,
		tcp_syn_count BIGINT NOT NULL DEFAULT 0,
		tcp_rst_count BIGINT NOT NULL DEFAULT 0,
		tcp_fin_count BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (bucket, entity_id, metric_type)
	)`,

	`SELECT create_hypertable('traffic_metrics', 'bucket', chunk_time_interval => INTERVAL '1 day', if_not_exists => TRUE)`,
	`SELECT add_retention_policy('traffic_metrics', INTERVAL '30 days', if_not_exists => TRUE)`,

	`CREATE TABLE IF NOT EXISTS schema_meta (
		id                       BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
		schema_version           INTEGER NOT NULL,
		activity_window_secs     INTEGER NOT NULL,
		bucket_size_secs         INTEGER NOT NULL,
		max_bucket_lookback_secs INTEGER NOT NULL
	)`,

	`INSERT INTO schema_meta (id, schema_version, activity_window_secs, bucket_size_secs, max_bucket_lookback_secs)
	 VALUES (TRUE, 1, 300, 60, 600)
	 ON CONFLICT (id) DO NOTHING`,
}
