package ranking

// linePrompt asks for one "name;rank:N;source:i,j" line per brand.
const linePrompt = `请从以下内容中提取产品或平台的排名信息。内容中包含 [citation:X] 标记表示引用编号。

内容：
%s

要求：
1. 提取所有提到的产品或平台名称
2. 根据文本中的顺序确定排名
3. 如果有并排的情况，rank相同；后续的rank不会因为有并排的rank就加一，而是保持为原始的rank
4. 找出每个产品对应的citation编号（例如 [citation:1] 表示引用编号1）
5. 如果某个产品没有source，则不包含source这一项
6. 如果原始文本中没有出现企业名称，则不输出任何字符

输出格式（每行一个产品，使用分号分隔字段）：
平台名;rank:排名;source:引用编号1,引用编号2

示例输出：
FOR U 健身私教馆;rank:1;source:1,2
角马私教;rank:1;source:5
人鱼线健身工作室;rank:2;source:3

请只输出结果，不要包含任何解释文字。如果没有找到产品，请返回空字符串。
`

// jsonPrompt asks for a JSON array of {rank, name, reason}.
const jsonPrompt = `请从以下AI回复中提取产品/品牌排名信息。

回复内容:
%s

请以JSON格式返回排名列表，格式如下:
[
  {"rank": 1, "name": "产品名称", "reason": "推荐理由"},
  {"rank": 2, "name": "产品名称", "reason": "推荐理由"}
]

如果没有明确的排名信息，返回空列表 []。
只返回JSON，不要其他文字。`
