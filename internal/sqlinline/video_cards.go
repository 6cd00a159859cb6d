package sqlinline

// Postgres variants, executed through infra.SQLRunner.

const QCreateVideoCards = `--sql fb05c16c-0f6c-4a15-9246-5dc8023d32d5
create table if not exists video_cards (
    id text primary key,
    position integer not null,
    image_url text not null,
    prompt text not null default '',
    aspect_ratio text not null default '',
    duration integer not null default 0,
    video_url text not null default '',
    status text not null,
    progress integer not null default 0,
    error_msg text not null default '',
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`

const QSelectVideoCards = `--sql 49141250-ee64-4341-9b2a-6b0e9a624193
select id, position, image_url, prompt, aspect_ratio, duration, video_url, status, progress, error_msg, created_at, updated_at
from video_cards
order by position asc, created_at asc;
`

const QDeleteVideoCards = `--sql ddf9920d-8b44-415b-b5f4-9346ea74943d
delete from video_cards;
`

const QInsertVideoCard = `--sql 38d17f0a-a368-455d-8b3b-27213eeecee7
insert into video_cards (id, position, image_url, prompt, aspect_ratio, duration, video_url, status, progress, error_msg, created_at, updated_at)
values ($1::text, $2::integer, $3::text, $4::text, $5::text, $6::integer, $7::text, $8::text, $9::integer, $10::text, $11::timestamptz, $12::timestamptz);
`

// SQLite variants. Timestamps are unix milliseconds.

const QSQLiteCreateVideoCards = `--sql cadf1ceb-4b2b-447d-85b2-72455aaa58fc
create table if not exists video_cards (
    id text primary key,
    position integer not null,
    image_url text not null,
    prompt text not null default '',
    aspect_ratio text not null default '',
    duration integer not null default 0,
    video_url text not null default '',
    status text not null,
    progress integer not null default 0,
    error_msg text not null default '',
    created_at integer not null,
    updated_at integer not null
);
`

const QSQLiteSelectVideoCards = `--sql c5cfad15-3052-4de9-a9eb-c9284987e0ac
select id, position, image_url, prompt, aspect_ratio, duration, video_url, status, progress, error_msg, created_at, updated_at
from video_cards
order by position asc, created_at asc;
`

const QSQLiteDeleteVideoCards = `--sql cae3f193-a75d-4f34-8016-aba436c6fe15
delete from video_cards;
`

const QSQLiteInsertVideoCard = `--sql fe024baf-e3d1-4d4e-8df3-c9e8504042e7
insert into video_cards (id, position, image_url, prompt, aspect_ratio, duration, video_url, status, progress, error_msg, created_at, updated_at)
values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
