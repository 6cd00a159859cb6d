package sqlinline

const QCreateIntegrationTokens = `--sql d1768192-0217-4745-a8a4-dc9976397700
create table if not exists integration_tokens (
    provider text primary key,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`

const QSelectIntegrationToken = `--sql 425a86bd-1115-446c-b846-11307c5f10c7
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 3c19d2bc-30f1-4678-9048-f1ae03bbfd8d
insert into integration_tokens (provider, token, properties, created_at, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`

const QListIntegrationProviders = `--sql f1d3dcec-2dfd-4a54-9869-613bbeaba9bf
select provider, updated_at
from integration_tokens
order by provider asc;
`
