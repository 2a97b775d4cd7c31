package sqlinline

const QInsertCreditTransaction = `--sql 61fe07f8-06b5-45d1-9b70-61780f77d649
insert into credit_transactions(id, user_id, tx_type, amount, reference_id, created_at)
values (gen_random_uuid(), $1::uuid, $2::text, $3::int, $4::text, now());
`

const QSelectCreditTransactionByReference = `--sql 2d47e07c-9c95-414f-b4a3-bb1b0ec8115b
select id
from credit_transactions
where reference_id = $1::text
limit 1;
`
