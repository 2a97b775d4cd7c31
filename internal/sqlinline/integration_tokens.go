package sqlinline

const QSelectIntegrationToken = `--sql cdfce73b-ee1a-4271-a9c2-7d5d10895a17
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 0401adfc-e783-4e5f-bfa7-4bee9cde380e
insert into integration_tokens (id, provider, token, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, now(), now())
on conflict (provider) do update set
    token = excluded.token,
    updated_at = now();
`
