package sqlinline

const QSelectProfile = `--sql c5d7cf47-7d81-4bf5-badd-2279196fa834
select user_id, credits, subscription_active, updated_at
from profiles
where user_id = $1::uuid;
`

const QUpdateProfileCredits = `--sql 924c148d-7fad-444e-bbe3-2b68eacd45aa
update profiles
set credits = $2::int,
    updated_at = now()
where user_id = $1::uuid
returning credits;
`

const QAtomicDebitCredits = `--sql 15e2c09e-17f2-49f3-8e40-9058ae30a4f8
update profiles
set credits = credits - $2::int,
    updated_at = now()
where user_id = $1::uuid
  and credits >= $2::int
returning credits;
`

const QAddProfileCredits = `--sql 5f94a42e-ae84-46f5-ae4e-083c2b048489
update profiles
set credits = credits + $2::int,
    updated_at = now()
where user_id = $1::uuid
returning credits;
`

const QSetProfileSubscription = `--sql 8b3d6a91-24c6-4f1d-9a55-6f1f0c2d7e13
update profiles
set subscription_active = $2::bool,
    updated_at = now()
where user_id = $1::uuid
returning credits, subscription_active;
`
