package sqlinline

const QInsertGeneration = `--sql 50e96636-f973-40a5-85b3-0f5f25164adb
insert into generations(
  id,
  user_id,
  prompt,
  model,
  media_type,
  status,
  task_id,
  output_url,
  credits_used,
  provider_endpoint,
  error_message,
  created_at,
  updated_at
)
values (
  $1::uuid,
  $2::uuid,
  $3::text,
  $4::text,
  $5::text,
  $6::text,
  $7::text,
  $8::text,
  $9::int,
  $10::text,
  $11::text,
  now(),
  now()
);
`

const QSelectGeneration = `--sql 2fd92b5f-9989-4767-af7e-cbe3980040a5
select id, user_id, prompt, model, media_type, status, task_id, output_url,
       credits_used, provider_endpoint, error_message, created_at, updated_at
from generations
where id = $1::uuid
  and user_id = $2::uuid;
`

const QSelectRecentGenerations = `--sql f3c477c6-feb7-4233-b364-38895b247864
select id, user_id, prompt, model, media_type, status, task_id, output_url,
       credits_used, provider_endpoint, error_message, created_at, updated_at
from generations
where user_id = $1::uuid
order by created_at desc
limit $2::int;
`

const QSelectPendingGenerations = `--sql 1e882694-37ef-4f57-a5f7-deb7ba113da7
select id, user_id, prompt, model, media_type, status, task_id, output_url,
       credits_used, provider_endpoint, error_message, created_at, updated_at
from generations
where status = 'pending'
  and task_id <> ''
order by created_at asc
limit $1::int;
`

const QCompleteGeneration = `--sql 7e29cc18-0c80-4192-bf72-3a68dbfdef6f
update generations
set status = 'completed',
    output_url = $2::text,
    updated_at = now()
where id = $1::uuid
  and status = 'pending';
`

const QFailGeneration = `--sql fe0e3447-bc6a-417e-9d44-cb78ceabaa73
update generations
set status = 'failed',
    error_message = $2::text,
    updated_at = now()
where id = $1::uuid
  and status = 'pending';
`
