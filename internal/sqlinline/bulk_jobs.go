package sqlinline

// SchemaBulkJobs creates the table backing the postgres job store. Applied
// by cmd/api and cmd/worker on startup; every statement is idempotent.
const SchemaBulkJobs = `--sql 0c1e4a52-8a7b-4d0e-9d62-2f3b8f5a1c11
create table if not exists bulk_jobs (
    id               text primary key,
    file_name        text not null default '',
    status           text not null,
    records          jsonb not null,
    results          jsonb not null default '[]'::jsonb,
    errors           jsonb not null default '[]'::jsonb,
    completed_count  integer not null default 0,
    failed_count     integer not null default 0,
    cancel_requested boolean not null default false,
    claimed_at       timestamptz,
    created_at       timestamptz not null,
    started_at       timestamptz,
    completed_at     timestamptz,
    expires_at       timestamptz not null
);
drop index if exists bulk_jobs_claim_idx;
create index if not exists bulk_jobs_queue_idx on bulk_jobs (created_at) where status in ('pending', 'processing');
create index if not exists bulk_jobs_expires_idx on bulk_jobs (expires_at);
`

const QBulkJobInsert = `--sql 7d2b9c3e-61f4-4a8a-b0e5-93c1d4f6a201
insert into bulk_jobs (
    id, file_name, status, records, results, errors,
    completed_count, failed_count, created_at, started_at, completed_at, expires_at
) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`

const QBulkJobSelect = `--sql 3a8e0f71-2c5d-4b9e-8f16-c7d2e5a9b302
select id, file_name, status, records, results, errors,
       completed_count, failed_count, cancel_requested, claimed_at,
       created_at, started_at, completed_at, expires_at
from bulk_jobs
where id = $1;
`

// QBulkJobSave leaves cancel_requested and claimed_at alone; those belong
// to the cancel endpoint and the dispatcher.
const QBulkJobSave = `--sql 9b4c6d2a-0e7f-4c31-a5d8-1f2e3b4c5d03
update bulk_jobs
set status = $2,
    results = $3,
    errors = $4,
    completed_count = $5,
    failed_count = $6,
    started_at = $7,
    completed_at = $8
where id = $1;
`

const QBulkJobDelete = `--sql e5f1a2b3-4c6d-4e7f-8a9b-0c1d2e3f4a04
delete from bulk_jobs where id = $1;
`

const QBulkJobSetCancel = `--sql 1f2a3b4c-5d6e-4f70-8192-a3b4c5d6e705
update bulk_jobs set cancel_requested = $2 where id = $1;
`

// QBulkJobClaim also takes over claims taken at or before $2, left behind by
// a worker that died without releasing. A null $2 disables takeover.
const QBulkJobClaim = `--sql 6c7d8e9f-0a1b-4c2d-9e3f-4a5b6c7d8e06
with next_job as (
    select id
    from bulk_jobs
    where (claimed_at is null or claimed_at <= $2)
      and not cancel_requested
      and status in ('pending', 'processing')
    order by created_at asc
    for update skip locked
    limit 1
)
update bulk_jobs
set claimed_at = $1
where id in (select id from next_job)
returning id, file_name, status, records, results, errors,
          completed_count, failed_count, cancel_requested, claimed_at,
          created_at, started_at, completed_at, expires_at;
`

const QBulkJobHeartbeat = `--sql 4d5e6f70-8192-4a3b-b4c5-d6e7f8091a09
update bulk_jobs set claimed_at = $2 where id = $1 and claimed_at is not null;
`

const QBulkJobRelease = `--sql a0b1c2d3-e4f5-4a6b-8c7d-9e0f1a2b3c07
update bulk_jobs set claimed_at = null where id = $1;
`

const QBulkJobDeleteExpired = `--sql b2c3d4e5-f6a7-4b8c-9d0e-1f2a3b4c5d08
delete from bulk_jobs
where expires_at <= $1
returning id;
`
