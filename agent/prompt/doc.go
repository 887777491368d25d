// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 prompt 负责把任务组装为模型提示词，并校验任务输入。

# 概述

[Render] 是纯函数：相同的代理定义、任务类型、输入与上下文
总是得到逐字节相同的提示词。map 键排序输出，嵌套对象与列表缩进展开，
结构体等具体类型先经 JSON 归一化。

# 核心类型

  - [Schema]：单个任务类型的必填字段与字段类型
  - [SchemaSet]：按任务类型索引的 Schema，校验失败返回 INVALID_INPUT
  - [Kind]：字段取值类型
*/
package prompt
